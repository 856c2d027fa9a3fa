package domain

import (
	"fmt"
	"strings"
)

// ValidateRecord checks a current-affairs record before it enters a merge.
func ValidateRecord(r Record) error {
	return validateRecordAt("", r)
}

func validateRecordAt(path string, r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError(path, "id", r.ID, ErrMissingID)
	}
	if strings.TrimSpace(r.Title) == "" {
		return NewValidationError(path, "title", r.Title, ErrMissingField)
	}
	if strings.TrimSpace(r.Source) == "" {
		return NewValidationError(path, "source", r.Source, ErrMissingField)
	}
	if r.DatePublished.IsZero() {
		return NewValidationError(path, "datePublished", "", ErrMissingField)
	}
	if !ValidCategories[r.Category] {
		return NewValidationError(path, "category", string(r.Category), ErrInvalidCategory)
	}
	if r.Importance != ImportanceHigh && r.Importance != ImportanceMedium {
		return NewValidationError(path, "importance", string(r.Importance), ErrInvalidImportance)
	}
	return nil
}

// PartitionRecords splits records into valid ones and an error per invalid
// record. Order of the valid records is preserved.
func PartitionRecords(records []Record) ([]Record, error) {
	valid := make([]Record, 0, len(records))
	var errs ItemErrors
	for i, r := range records {
		if err := validateRecordAt(fmt.Sprintf("records[%d]", i), r); err != nil {
			errs.Add(err)
			continue
		}
		valid = append(valid, r)
	}
	return valid, errs.ErrOrNil()
}

// ValidateQuestion checks a single question.
func ValidateQuestion(q Question) error {
	return validateQuestionAt("", q)
}

func validateQuestionAt(path string, q Question) error {
	if strings.TrimSpace(q.QuestionID) == "" {
		return NewValidationError(path, "questionId", q.QuestionID, ErrMissingID)
	}
	if strings.TrimSpace(q.Question) == "" {
		return NewValidationError(path, "question", q.Question, ErrMissingField)
	}
	if len(q.Options) == 0 {
		return NewValidationError(path, "options", "", ErrMissingField)
	}
	return nil
}

// ValidateExams walks an exam tree and reports every node that lacks an
// identifier or repeats a sibling's identifier. It returns nil or an
// *ItemErrors.
func ValidateExams(exams []Exam) error {
	var errs ItemErrors
	examIDs := make(map[string]bool, len(exams))
	for i, e := range exams {
		ep := fmt.Sprintf("exams[%d]", i)
		if !checkID(&errs, ep, "examId", e.ExamID, examIDs) {
			continue
		}
		subjectIDs := make(map[string]bool, len(e.Subjects))
		for j, s := range e.Subjects {
			sp := fmt.Sprintf("%s.subjects[%d]", ep, j)
			if !checkID(&errs, sp, "subjectId", s.SubjectID, subjectIDs) {
				continue
			}
			paperIDs := make(map[string]bool, len(s.QuestionPapers))
			for k, p := range s.QuestionPapers {
				pp := fmt.Sprintf("%s.questionPapers[%d]", sp, k)
				if !checkID(&errs, pp, "questionPaperId", p.PaperID, paperIDs) {
					continue
				}
				for l, q := range p.Questions {
					errs.Add(validateQuestionAt(fmt.Sprintf("%s.questions[%d]", pp, l), q))
				}
			}
		}
	}
	return errs.ErrOrNil()
}

func checkID(errs *ItemErrors, path, field, id string, seen map[string]bool) bool {
	if strings.TrimSpace(id) == "" {
		errs.Add(NewValidationError(path, field, id, ErrMissingID))
		return false
	}
	if seen[id] {
		errs.Add(NewValidationError(path, field, id, ErrDuplicateID))
		return false
	}
	seen[id] = true
	return true
}
