package dedup

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/examfit/corpus/engine/domain"
)

func rec(id, title string) domain.Record {
	return domain.Record{ID: id, Title: title}
}

func ids(records []domain.Record) string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return strings.Join(out, ",")
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  RBI Hikes   Repo-Rate!! ": "rbi hikes reporate",
		"India's GDP: 7.2%":          "indias gdp 72",
		"snake_case stays":           "snake_case stays",
		"":                           "",
		"¡Olé! Café":                 "olé café",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("a b c d", "a b c e"); got != 3.0/5.0 {
		t.Errorf("expected 0.6, got %v", got)
	}
	if got := Similarity("a b", "a b"); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if got := Similarity("", "a"); got != 0 {
		t.Errorf("expected 0 for empty side, got %v", got)
	}
	if got := Similarity("   ", ""); got != 0 {
		t.Errorf("expected 0 for both empty, got %v", got)
	}
	if Similarity("x y z", "y z w q") != Similarity("y z w q", "x y z") {
		t.Error("similarity must be symmetric")
	}
	if got := Similarity("a a a b", "a b"); got != 1 {
		t.Errorf("token sets ignore repeats, got %v", got)
	}
}

func TestRecords_EarliestWins(t *testing.T) {
	in := []domain.Record{
		rec("1", "RBI keeps repo rate unchanged at 6.5 percent in policy review"),
		rec("2", "Chandrayaan lander touches down near lunar south pole"),
		rec("3", "RBI keeps repo rate unchanged at 6.5 percent in policy review!"),
		rec("4", "rbi keeps the repo rate unchanged at 6.5 percent in policy review"),
	}
	out, stats := Records(in, DefaultThreshold)
	if got := ids(out); got != "1,2" {
		t.Fatalf("expected 1,2 kept, got %s", got)
	}
	if stats != (Stats{Input: 4, Kept: 2, Dropped: 2}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRecords_ThresholdIsStrict(t *testing.T) {
	// 4 shared tokens of 5 distinct: similarity exactly 0.8 survives.
	in := []domain.Record{rec("1", "a b c d"), rec("2", "a b c d e")}
	out, _ := Records(in, 0.8)
	if len(out) != 2 {
		t.Fatalf("similarity equal to the threshold must not drop, got %s", ids(out))
	}
	out, _ = Records(in, 0.75)
	if got := ids(out); got != "1" {
		t.Fatalf("expected only 1 at threshold 0.75, got %s", got)
	}
}

func TestRecords_Idempotent(t *testing.T) {
	in := []domain.Record{
		rec("1", "Budget 2025 focuses on rural jobs"),
		rec("2", "Budget 2025 focuses on rural jobs and roads"),
		rec("3", "Union Budget 2025 focuses on rural jobs"),
		rec("4", "Monsoon arrives early in Kerala"),
		rec("5", "Monsoon arrives early in Kerala coast"),
		rec("6", ""),
	}
	once, _ := Records(in, DefaultThreshold)
	twice, stats := Records(once, DefaultThreshold)
	if ids(once) != ids(twice) {
		t.Fatalf("dedup not idempotent: %s vs %s", ids(once), ids(twice))
	}
	if stats.Dropped != 0 {
		t.Fatalf("second pass dropped %d", stats.Dropped)
	}
}

func TestRecords_EmptyTitlesNeverCollide(t *testing.T) {
	in := []domain.Record{rec("1", ""), rec("2", "!!!"), rec("3", "")}
	out, _ := Records(in, DefaultThreshold)
	if len(out) != 3 {
		t.Fatalf("expected empty titles to be kept, got %s", ids(out))
	}
}

// Short titles that differ by one token score low and are kept, while a
// short headline repeated with punctuation noise is dropped. Distinct
// stories that share most of a short headline template still collapse;
// that false positive is accepted at the default threshold.
func TestRecords_ShortTitleBehaviour(t *testing.T) {
	out, _ := Records([]domain.Record{rec("1", "Sensex falls"), rec("2", "Sensex rises")}, DefaultThreshold)
	if len(out) != 2 {
		t.Fatalf("expected both short titles kept, got %s", ids(out))
	}
	out, _ = Records([]domain.Record{
		rec("1", "Daily current affairs quiz for 10 January 2025 part one"),
		rec("2", "Daily current affairs quiz for 10 January 2025 part one two"),
	}, DefaultThreshold)
	if got := ids(out); got != "1" {
		t.Fatalf("expected template titles to collapse, got %s", got)
	}
}

func TestRecords_DefaultThresholdFallback(t *testing.T) {
	d := New(0, nil)
	if d.Threshold != DefaultThreshold {
		t.Fatalf("expected fallback threshold, got %v", d.Threshold)
	}
	if New(1.5, nil).Threshold != DefaultThreshold {
		t.Fatal("expected fallback for threshold above 1")
	}
	if New(0.5, nil).Threshold != 0.5 {
		t.Fatal("expected custom threshold to be kept")
	}
}

func TestRecords_LargeCorpusWarning(t *testing.T) {
	var buf bytes.Buffer
	d := New(DefaultThreshold, slog.New(slog.NewTextHandler(&buf, nil)))
	in := make([]domain.Record, LargeCorpusWarning+5)
	for i := range in {
		in[i] = rec(fmt.Sprint(i), fmt.Sprintf("unique headline number %d", i))
	}
	out, _ := d.Records(in)
	if len(out) != len(in) {
		t.Fatalf("expected all distinct titles kept, got %d", len(out))
	}
	if strings.Count(buf.String(), "retained set is large") != 1 {
		t.Fatalf("expected exactly one warning, got log %q", buf.String())
	}
}

func question(id, text, first string) domain.Question {
	return domain.Question{QuestionID: id, Question: text, Options: []domain.Option{{OptionID: "a", Text: first}}}
}

func TestQuestions(t *testing.T) {
	in := []domain.Question{
		question("1", "Capital of India?", "New Delhi"),
		question("2", "Capital of India?", "New Delhi"),
		question("1", "Capital of France?", "Paris"),
		question("3", "Capital of India?", "Mumbai"),
	}
	out, stats := Questions(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(out))
	}
	if out[0].QuestionID != "1" || out[1].Question != "Capital of France?" {
		t.Fatalf("unexpected order %+v", out)
	}
	if stats != (Stats{Input: 4, Kept: 3, Dropped: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestQuestionsSeeded(t *testing.T) {
	seen := map[string]bool{domain.QuestionHash(question("x", "Q1", "A")): true}
	out, stats := QuestionsSeeded([]domain.Question{question("a", "Q1", "A"), question("b", "Q2", "B")}, seen)
	if len(out) != 1 || out[0].QuestionID != "b" {
		t.Fatalf("expected only the unseen question, got %+v", out)
	}
	if stats.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", stats.Dropped)
	}
	if !seen[domain.QuestionHash(question("", "Q2", "B"))] {
		t.Fatal("expected seed set to be extended")
	}
}
