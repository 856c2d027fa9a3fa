// Package merge reconciles freshly scraped data with the persisted corpus.
//
// Exam trees merge level by level on identifiers: a node whose id already
// exists is merged recursively, anything else is appended. At the question
// level identity is the content hash, so re-scraped questions are absorbed
// instead of duplicated, also inside appended papers. Merges never modify their inputs.
package merge

import (
	"fmt"
	"time"

	"github.com/examfit/corpus/engine/dedup"
	"github.com/examfit/corpus/engine/domain"
)

// Stats describes what a tree merge changed.
type Stats struct {
	ExamsAdded         int           `json:"examsAdded"`
	SubjectsAdded      int           `json:"subjectsAdded"`
	PapersAdded        int           `json:"papersAdded"`
	PapersUpdated      int           `json:"papersUpdated"`
	QuestionsAdded     int           `json:"questionsAdded"`
	DuplicatesAbsorbed int           `json:"duplicatesAbsorbed"`
	Totals             domain.Counts `json:"totals"`
}

// Trees merges incoming into existing and returns the merged tree. Existing
// nodes keep their position, new nodes follow in incoming order. Papers
// that gained questions get LastUpdated set to now.
//
// The incoming tree is validated first; any node without an identifier or
// with a sibling's identifier rejects the whole merge with an error that
// wraps *domain.ItemErrors.
func Trees(existing, incoming []domain.Exam, now time.Time) ([]domain.Exam, Stats, error) {
	if err := domain.ValidateExams(incoming); err != nil {
		return nil, Stats{}, fmt.Errorf("merge: incoming tree rejected: %w", err)
	}
	m := &merger{now: now}
	out := m.exams(existing, incoming)
	m.stats.Totals = domain.Count(out)
	return out, m.stats, nil
}

type merger struct {
	now   time.Time
	stats Stats
}

func (m *merger) exams(existing, incoming []domain.Exam) []domain.Exam {
	if len(incoming) == 0 {
		return cloneExams(existing)
	}
	out := make([]domain.Exam, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))
	for _, e := range existing {
		if _, ok := index[e.ExamID]; !ok {
			index[e.ExamID] = len(out)
		}
		out = append(out, domain.CloneExam(e))
	}
	for _, in := range incoming {
		if i, ok := index[in.ExamID]; ok {
			out[i].Subjects = m.subjects(out[i].Subjects, in.Subjects)
			continue
		}
		out = append(out, m.newExam(in))
		m.stats.ExamsAdded++
	}
	return out
}

// subjects merges into existing, which the caller already owns.
func (m *merger) subjects(existing, incoming []domain.Subject) []domain.Subject {
	if len(incoming) == 0 {
		return existing
	}
	index := make(map[string]int, len(existing))
	for i, s := range existing {
		if _, ok := index[s.SubjectID]; !ok {
			index[s.SubjectID] = i
		}
	}
	for _, in := range incoming {
		if i, ok := index[in.SubjectID]; ok {
			existing[i].QuestionPapers = m.papers(existing[i].QuestionPapers, in.QuestionPapers)
			continue
		}
		existing = append(existing, m.newSubject(in))
		m.stats.SubjectsAdded++
	}
	return existing
}

func (m *merger) papers(existing, incoming []domain.QuestionPaper) []domain.QuestionPaper {
	if len(incoming) == 0 {
		return existing
	}
	index := make(map[string]int, len(existing))
	for i, p := range existing {
		if _, ok := index[p.PaperID]; !ok {
			index[p.PaperID] = i
		}
	}
	for _, in := range incoming {
		if i, ok := index[in.PaperID]; ok {
			m.questions(&existing[i], in.Questions)
			continue
		}
		existing = append(existing, m.newPaper(in))
		m.stats.PapersAdded++
	}
	return existing
}

// questions appends the incoming questions whose hash is not yet in p.
// Questions already in p stay as they are, in their order.
func (m *merger) questions(p *domain.QuestionPaper, incoming []domain.Question) {
	seen := make(map[string]bool, len(p.Questions)+len(incoming))
	for _, q := range p.Questions {
		seen[domain.QuestionHash(q)] = true
	}
	added, st := dedup.QuestionsSeeded(incoming, seen)
	m.stats.DuplicatesAbsorbed += st.Dropped
	if len(added) == 0 {
		return
	}
	for _, q := range added {
		p.Questions = append(p.Questions, domain.CloneQuestion(q))
	}
	p.LastUpdated = domain.At(m.now)
	m.stats.PapersUpdated++
	m.stats.QuestionsAdded += len(added)
}

func (m *merger) newExam(e domain.Exam) domain.Exam {
	out := domain.CloneExam(e)
	for i := range out.Subjects {
		m.collapseSubject(&out.Subjects[i])
	}
	return out
}

func (m *merger) newSubject(s domain.Subject) domain.Subject {
	out := domain.CloneSubject(s)
	m.collapseSubject(&out)
	return out
}

func (m *merger) newPaper(p domain.QuestionPaper) domain.QuestionPaper {
	out := domain.ClonePaper(p)
	m.collapse(&out)
	return out
}

func (m *merger) collapseSubject(s *domain.Subject) {
	for i := range s.QuestionPapers {
		m.collapse(&s.QuestionPapers[i])
	}
}

// collapse drops repeated questions from a paper the corpus does not have
// yet. LastUpdated stays as the incoming paper has it.
func (m *merger) collapse(p *domain.QuestionPaper) {
	kept, st := dedup.Questions(p.Questions)
	if st.Dropped > 0 {
		p.Questions = kept
		m.stats.DuplicatesAbsorbed += st.Dropped
	}
	m.stats.QuestionsAdded += len(p.Questions)
}

func cloneExams(exams []domain.Exam) []domain.Exam {
	if exams == nil {
		return nil
	}
	out := make([]domain.Exam, len(exams))
	for i, e := range exams {
		out[i] = domain.CloneExam(e)
	}
	return out
}
