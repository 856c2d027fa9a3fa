package merge

import (
	"testing"
	"time"

	"github.com/examfit/corpus/engine/domain"
)

func tagged(id string, tags ...string) domain.Question {
	q := question(id, "Question "+id, "answer "+id)
	q.Tags = tags
	return q
}

func TestOrganize_DefaultRules(t *testing.T) {
	qs := []domain.Question{
		tagged("1", "polity"),
		tagged("2", "current-affairs"),
		tagged("3"),
		tagged("4", "history", "general-knowledge"),
	}
	exams := Organize(qs, DefaultRules(), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	if len(exams) != 2 {
		t.Fatalf("expected 2 exams, got %d", len(exams))
	}
	if exams[0].ExamID != "general" || exams[1].ExamID != "upsc" {
		t.Fatalf("unexpected exam order %s, %s", exams[0].ExamID, exams[1].ExamID)
	}
	upsc := exams[1]
	if upsc.ExamName != "Union Public Service Commission(CSE)" || upsc.Subjects[0].SubjectID != "general-studies" {
		t.Fatalf("unexpected upsc placement %+v", upsc)
	}
	p := upsc.Subjects[0].QuestionPapers[0]
	if p.PaperID != "auto-2025-01" || p.PaperName != "Auto-Updated January 2025" || p.Section != "Auto-Generated" {
		t.Fatalf("unexpected paper %+v", p)
	}
	if len(p.Questions) != 2 || p.Questions[0].QuestionID != "2" || p.Questions[1].QuestionID != "4" {
		t.Fatalf("unexpected upsc questions %+v", p.Questions)
	}
	if n := len(exams[0].Subjects[0].QuestionPapers[0].Questions); n != 2 {
		t.Fatalf("expected 2 general questions, got %d", n)
	}
	if err := domain.ValidateExams(exams); err != nil {
		t.Fatalf("organized tree must validate: %v", err)
	}
}

func TestOrganize_ThenMergeIsIdempotent(t *testing.T) {
	at := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	scraped := Organize([]domain.Question{tagged("1", "current-affairs"), tagged("2", "gk")}, DefaultRules(), at)
	first, _, err := Trees(nil, scraped, at)
	if err != nil {
		t.Fatal(err)
	}
	second, stats, err := Trees(first, scraped, at.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if domain.Count(second) != domain.Count(first) || stats.QuestionsAdded != 0 {
		t.Fatalf("re-merging the same scrape added data: %+v", stats)
	}
}

func TestRules_Place(t *testing.T) {
	r := Rules{
		Rules: []Rule{
			{Tags: []string{"banking"}, Placement: Placement{ExamID: "ibps"}},
			{Tags: []string{"banking", "economy"}, Placement: Placement{ExamID: "rbi"}},
		},
		Fallback: Placement{ExamID: "misc"},
	}
	if got := r.Place([]string{"economy", "banking"}).ExamID; got != "ibps" {
		t.Fatalf("first matching rule must win, got %s", got)
	}
	if got := r.Place(nil).ExamID; got != "misc" {
		t.Fatalf("expected fallback, got %s", got)
	}
}
