package merge

import (
	"fmt"
	"time"

	"github.com/examfit/corpus/engine/domain"
)

// Placement names the exam and subject a question is filed under.
type Placement struct {
	ExamID      string `yaml:"exam_id"`
	ExamName    string `yaml:"exam_name"`
	SubjectID   string `yaml:"subject_id"`
	SubjectName string `yaml:"subject_name"`
}

// Rule files questions carrying any of Tags under Placement.
type Rule struct {
	Tags      []string  `yaml:"tags"`
	Placement Placement `yaml:"placement"`
}

// Rules is an ordered rule list with a fallback for untagged questions.
type Rules struct {
	Rules    []Rule    `yaml:"rules"`
	Fallback Placement `yaml:"fallback"`
}

// DefaultRules files current-affairs and general-knowledge questions under
// UPSC General Studies and everything else under General Knowledge.
func DefaultRules() Rules {
	return Rules{
		Rules: []Rule{{
			Tags: []string{"current-affairs", "general-knowledge"},
			Placement: Placement{
				ExamID: "upsc", ExamName: "Union Public Service Commission(CSE)",
				SubjectID: "general-studies", SubjectName: "General Studies",
			},
		}},
		Fallback: Placement{
			ExamID: "general", ExamName: "General Knowledge",
			SubjectID: "gk", SubjectName: "General Knowledge",
		},
	}
}

// Place returns the placement of the first rule matching one of tags.
func (r Rules) Place(tags []string) Placement {
	for _, rule := range r.Rules {
		for _, want := range rule.Tags {
			for _, tag := range tags {
				if tag == want {
					return rule.Placement
				}
			}
		}
	}
	return r.Fallback
}

// MonthlyPaper returns the auto-generated paper for the month of now.
func MonthlyPaper(now time.Time) domain.QuestionPaper {
	return domain.QuestionPaper{
		PaperID:   fmt.Sprintf("auto-%s", now.Format("2006-01")),
		PaperName: fmt.Sprintf("Auto-Updated %s", now.Format("January 2006")),
		Section:   "Auto-Generated",
	}
}

// Organize files a flat list of scraped questions into an exam tree with
// one monthly paper per subject. Exams and subjects appear in the order
// their first question was seen.
func Organize(questions []domain.Question, rules Rules, now time.Time) []domain.Exam {
	var exams []domain.Exam
	examIdx := map[string]int{}
	subjectIdx := map[string]int{}

	for _, q := range questions {
		p := rules.Place(q.Tags)
		ei, ok := examIdx[p.ExamID]
		if !ok {
			ei = len(exams)
			examIdx[p.ExamID] = ei
			exams = append(exams, domain.Exam{ExamID: p.ExamID, ExamName: p.ExamName})
		}
		key := p.ExamID + "/" + p.SubjectID
		si, ok := subjectIdx[key]
		if !ok {
			si = len(exams[ei].Subjects)
			subjectIdx[key] = si
			exams[ei].Subjects = append(exams[ei].Subjects, domain.Subject{
				SubjectID:      p.SubjectID,
				SubjectName:    p.SubjectName,
				QuestionPapers: []domain.QuestionPaper{MonthlyPaper(now)},
			})
		}
		paper := &exams[ei].Subjects[si].QuestionPapers[0]
		paper.Questions = append(paper.Questions, domain.CloneQuestion(q))
	}
	return exams
}
