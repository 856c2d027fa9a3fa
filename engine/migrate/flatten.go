package migrate

import (
	"time"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/pkg/docstore"
)

// DefaultDifficulty is stored for questions that carry none.
const DefaultDifficulty = "medium"

// Flattened is the exam tree split into one document list per collection.
// Every child document carries the identifiers of its ancestors.
type Flattened struct {
	Exams     []docstore.Doc
	Subjects  []docstore.Doc
	Papers    []docstore.Doc
	Questions []docstore.Doc
}

// ByCollection returns the documents destined for coll.
func (f Flattened) ByCollection(coll string) []docstore.Doc {
	switch coll {
	case docstore.Exams:
		return f.Exams
	case docstore.Subjects:
		return f.Subjects
	case docstore.Papers:
		return f.Papers
	case docstore.Questions:
		return f.Questions
	}
	return nil
}

// Flatten converts exams into documents stamped with now.
func Flatten(exams []domain.Exam, now time.Time) Flattened {
	var f Flattened
	for _, e := range exams {
		f.Exams = append(f.Exams, docstore.ExamDoc{
			ExamID:        e.ExamID,
			ExamName:      e.ExamName,
			TotalSubjects: len(e.Subjects),
			IsActive:      true,
			CreatedAt:     now,
			MigratedAt:    now,
		})
		for _, s := range e.Subjects {
			f.Subjects = append(f.Subjects, docstore.SubjectDoc{
				ExamID:      e.ExamID,
				SubjectID:   s.SubjectID,
				SubjectName: s.SubjectName,
				TotalPapers: len(s.QuestionPapers),
				CreatedAt:   now,
				MigratedAt:  now,
			})
			for _, p := range s.QuestionPapers {
				f.Papers = append(f.Papers, docstore.PaperDoc{
					ExamID:         e.ExamID,
					SubjectID:      s.SubjectID,
					PaperID:        p.PaperID,
					PaperName:      p.PaperName,
					Section:        p.Section,
					TotalQuestions: len(p.Questions),
					CreatedAt:      now,
					MigratedAt:     now,
				})
				for _, q := range p.Questions {
					f.Questions = append(f.Questions, questionDoc(e.ExamID, s.SubjectID, p.PaperID, q, now))
				}
			}
		}
	}
	return f
}

func questionDoc(examID, subjectID, paperID string, q domain.Question, now time.Time) docstore.QuestionDoc {
	opts := make([]docstore.OptionDoc, len(q.Options))
	for i, o := range q.Options {
		opts[i] = docstore.OptionDoc{OptionID: o.OptionID, Text: o.Text}
	}
	difficulty := q.Difficulty
	if difficulty == "" {
		difficulty = DefaultDifficulty
	}
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}
	return docstore.QuestionDoc{
		QuestionID:    q.QuestionID,
		ExamID:        examID,
		SubjectID:     subjectID,
		PaperID:       paperID,
		Question:      q.Question,
		Options:       opts,
		CorrectOption: q.CorrectOption,
		Explanation:   q.Explanation,
		Difficulty:    difficulty,
		Tags:          tags,
		Source:        q.Source,
		CreatedAt:     now,
		MigratedAt:    now,
	}
}
