package migrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/pkg/docstore"
	"github.com/examfit/corpus/pkg/metrics"
)

// fakeStore keeps documents in memory and rejects duplicate keys the way
// a unique index would.
type fakeStore struct {
	docs       map[string][]docstore.Doc
	keys       map[string]map[string]bool
	batches    map[string][]int
	logs       []docstore.MigrationLog
	cleared    []string
	pingErr    error
	indexErr   error
	logErr     error
	failInsert string
	failBatch  int
	onInsert   func(coll string)
	logHasDue  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    map[string][]docstore.Doc{},
		keys:    map[string]map[string]bool{},
		batches: map[string][]int{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) Clear(_ context.Context, colls ...string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, c := range colls {
		out[c] = int64(len(f.docs[c]))
		delete(f.docs, c)
		delete(f.keys, c)
		f.cleared = append(f.cleared, c)
	}
	return out, nil
}

func (f *fakeStore) EnsureIndexes(context.Context) error { return f.indexErr }

func docKey(d docstore.Doc) string {
	switch v := d.(type) {
	case docstore.ExamDoc:
		return v.ExamID
	case docstore.SubjectDoc:
		return v.ExamID + "/" + v.SubjectID
	case docstore.PaperDoc:
		return v.ExamID + "/" + v.SubjectID + "/" + v.PaperID
	case docstore.QuestionDoc:
		return v.QuestionID
	}
	return fmt.Sprint(d)
}

func (f *fakeStore) Insert(ctx context.Context, coll string, docs []docstore.Doc) (docstore.InsertResult, error) {
	if f.onInsert != nil {
		f.onInsert(coll)
	}
	if err := ctx.Err(); err != nil {
		return docstore.InsertResult{}, err
	}
	f.batches[coll] = append(f.batches[coll], len(docs))
	if coll == f.failInsert && len(f.batches[coll]) == f.failBatch {
		return docstore.InsertResult{}, errors.New("connection reset")
	}
	if f.keys[coll] == nil {
		f.keys[coll] = map[string]bool{}
	}
	var res docstore.InsertResult
	for _, d := range docs {
		k := docKey(d)
		if f.keys[coll][k] {
			res.Rejected++
			continue
		}
		f.keys[coll][k] = true
		f.docs[coll] = append(f.docs[coll], d)
		res.Written++
	}
	return res, nil
}

func (f *fakeStore) Count(_ context.Context, coll string) (int64, error) {
	return int64(len(f.docs[coll])), nil
}

func (f *fakeStore) LogMigration(ctx context.Context, entry docstore.MigrationLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, f.logHasDue = ctx.Deadline()
	f.logs = append(f.logs, entry)
	return f.logErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 1, 20, 7, 30, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// buildTree returns 2 exams, 3 subjects, 5 papers and nq questions spread
// over the papers.
func buildTree(nq int) []domain.Exam {
	exams := []domain.Exam{
		{ExamID: "upsc", ExamName: "UPSC", Subjects: []domain.Subject{
			{SubjectID: "gs", SubjectName: "General Studies", QuestionPapers: []domain.QuestionPaper{
				{PaperID: "p1", PaperName: "P1"}, {PaperID: "p2", PaperName: "P2"},
			}},
			{SubjectID: "csat", SubjectName: "CSAT", QuestionPapers: []domain.QuestionPaper{
				{PaperID: "p3", PaperName: "P3"},
			}},
		}},
		{ExamID: "ssc", ExamName: "SSC", Subjects: []domain.Subject{
			{SubjectID: "gk", SubjectName: "GK", QuestionPapers: []domain.QuestionPaper{
				{PaperID: "p4", PaperName: "P4"}, {PaperID: "p5", PaperName: "P5"},
			}},
		}},
	}
	var papers []*domain.QuestionPaper
	for i := range exams {
		for j := range exams[i].Subjects {
			for k := range exams[i].Subjects[j].QuestionPapers {
				papers = append(papers, &exams[i].Subjects[j].QuestionPapers[k])
			}
		}
	}
	for i := 0; i < nq; i++ {
		p := papers[i%len(papers)]
		p.Questions = append(p.Questions, domain.Question{
			QuestionID: fmt.Sprintf("q%04d", i),
			Question:   fmt.Sprintf("Question %d?", i),
			Options:    []domain.Option{{OptionID: "a", Text: "yes"}, {OptionID: "b", Text: "no"}},
		})
	}
	return exams
}

func TestFlatten_CarriesAncestorsAndDefaults(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	f := Flatten(buildTree(6), now)
	if len(f.Exams) != 2 || len(f.Subjects) != 3 || len(f.Papers) != 5 || len(f.Questions) != 6 {
		t.Fatalf("unexpected sizes %d/%d/%d/%d", len(f.Exams), len(f.Subjects), len(f.Papers), len(f.Questions))
	}
	exam := f.Exams[0].(docstore.ExamDoc)
	if !exam.IsActive || exam.TotalSubjects != 2 || !exam.MigratedAt.Equal(now) {
		t.Fatalf("exam doc %+v", exam)
	}
	q := f.Questions[5].(docstore.QuestionDoc)
	if q.ExamID != "upsc" || q.SubjectID != "gs" || q.PaperID != "p1" {
		t.Fatalf("question ancestors %+v", q)
	}
	if q.Difficulty != DefaultDifficulty {
		t.Fatalf("difficulty = %q", q.Difficulty)
	}
	if q.Tags == nil || len(q.Options) != 2 {
		t.Fatalf("tags/options %+v", q)
	}
	if got := f.ByCollection("unknown"); got != nil {
		t.Fatalf("unknown collection returned %v", got)
	}
}

func TestRun_Success(t *testing.T) {
	store := newFakeStore()
	reg := metrics.New()
	m := New(store, WithLogger(quietLogger()), WithClock(fixedClock()), WithMetrics(NewMetrics(reg)))
	m.newID = func() string { return "run-1" }

	rep, err := m.Run(context.Background(), buildTree(1000))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]int64{docstore.Exams: 2, docstore.Subjects: 3, docstore.Papers: 5, docstore.Questions: 1000}
	for _, l := range rep.Levels {
		if l.Expected != want[l.Collection] || !l.Match() {
			t.Errorf("level %+v", l)
		}
	}
	if !rep.Success || rep.Written != 1010 || rep.Rejected != 0 {
		t.Fatalf("report %+v", rep)
	}
	if rep.Batches != 4 {
		t.Fatalf("batches = %d", rep.Batches)
	}
	if len(store.logs) != 1 || !store.logs[0].Success || store.logs[0].RunID != "run-1" {
		t.Fatalf("logs %+v", store.logs)
	}
	if store.logs[0].Stats.TotalQuestions != 1000 {
		t.Fatalf("log stats %+v", store.logs[0].Stats)
	}
	if rep.Duration() <= 0 {
		t.Fatalf("duration %v", rep.Duration())
	}
	out := reg.Render()
	if !strings.Contains(out, "corpus_migration_documents_written_total 1010") {
		t.Fatalf("metrics output missing written count:\n%s", out)
	}
}

func TestRun_BatchesAtBatchSize(t *testing.T) {
	store := newFakeStore()
	m := New(store, WithLogger(quietLogger()), WithBatchSize(400))
	if _, err := m.Run(context.Background(), buildTree(1000)); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := store.batches[docstore.Questions]
	if len(got) != 3 || got[0] != 400 || got[1] != 400 || got[2] != 200 {
		t.Fatalf("question batches = %v", got)
	}
}

func TestRun_ClearsOnlyTreeCollections(t *testing.T) {
	store := newFakeStore()
	store.docs[docstore.Questions] = []docstore.Doc{docstore.QuestionDoc{QuestionID: "stale"}}
	store.docs[docstore.MigrationLogs] = []docstore.Doc{docstore.MigrationLog{RunID: "old"}}
	m := New(store, WithLogger(quietLogger()))

	rep, err := m.Run(context.Background(), buildTree(3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Cleared[docstore.Questions] != 1 {
		t.Fatalf("cleared %v", rep.Cleared)
	}
	for _, c := range store.cleared {
		if c == docstore.MigrationLogs {
			t.Fatal("migration log must survive clearing")
		}
	}
	if len(store.docs[docstore.MigrationLogs]) != 1 {
		t.Fatal("migration log history lost")
	}
}

func TestRun_DuplicateQuestionIDIsMismatch(t *testing.T) {
	exams := buildTree(4)
	exams[1].Subjects[0].QuestionPapers[1].Questions = append(exams[1].Subjects[0].QuestionPapers[1].Questions,
		domain.Question{QuestionID: "q0000", Question: "Again?", Options: []domain.Option{{OptionID: "a", Text: "x"}}})

	store := newFakeStore()
	m := New(store, WithLogger(quietLogger()))
	rep, err := m.Run(context.Background(), exams)

	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if len(mm.Levels) != 1 || mm.Levels[0].Collection != docstore.Questions || mm.Levels[0].Expected != 5 || mm.Levels[0].Actual != 4 {
		t.Fatalf("levels %+v", mm.Levels)
	}
	if !strings.Contains(err.Error(), "questions expected 5 got 4") {
		t.Fatalf("message %q", err.Error())
	}
	if rep.Success || rep.Rejected != 1 {
		t.Fatalf("report %+v", rep)
	}
	if len(store.docs[docstore.Questions]) != 4 {
		t.Fatal("written data must be left in place")
	}
	if len(store.logs) != 1 || store.logs[0].Success || len(store.logs[0].Stats.Errors) != 1 {
		t.Fatalf("logs %+v", store.logs)
	}
}

func TestRun_BatchFailureStopsAndIsLogged(t *testing.T) {
	store := newFakeStore()
	store.failInsert = docstore.Questions
	store.failBatch = 2
	m := New(store, WithLogger(quietLogger()), WithBatchSize(2))

	rep, err := m.Run(context.Background(), buildTree(7))
	if err == nil || !strings.Contains(err.Error(), "migrate: insert questions batch 2") {
		t.Fatalf("unexpected error %v", err)
	}
	if got := store.batches[docstore.Questions]; len(got) != 2 {
		t.Fatalf("insertion must stop at the failed batch, batches = %v", got)
	}
	if rep.Levels != nil {
		t.Fatalf("validation must not run, got %+v", rep.Levels)
	}
	if len(store.logs) != 1 || store.logs[0].Success {
		t.Fatalf("failed attempt must be logged, got %+v", store.logs)
	}
}

func TestRun_CancelledRunIsStillLogged(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onInsert = func(coll string) {
		if coll == docstore.Questions {
			cancel()
		}
	}
	m := New(store, WithLogger(quietLogger()))

	_, err := m.Run(ctx, buildTree(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(store.logs) != 1 || store.logs[0].Success {
		t.Fatalf("cancelled attempt must be logged, got %+v", store.logs)
	}
	if !store.logHasDue {
		t.Fatal("log write should run under its own deadline")
	}
}

func TestRun_PingFailure(t *testing.T) {
	store := newFakeStore()
	store.pingErr = errors.New("no route to host")
	m := New(store, WithLogger(quietLogger()))

	_, err := m.Run(context.Background(), buildTree(1))
	if err == nil || !errors.Is(err, store.pingErr) {
		t.Fatalf("expected wrapped ping error, got %v", err)
	}
	if len(store.cleared) != 0 {
		t.Fatal("nothing may be cleared when the store is unreachable")
	}
	if len(store.logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(store.logs))
	}
}

func TestRun_IndexAndLogFailuresOnlyWarn(t *testing.T) {
	var buf bytes.Buffer
	store := newFakeStore()
	store.indexErr = errors.New("index exists with different options")
	store.logErr = errors.New("log collection unavailable")
	m := New(store, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	rep, err := m.Run(context.Background(), buildTree(2))
	if err != nil || !rep.Success {
		t.Fatalf("run: %v %+v", err, rep)
	}
	out := buf.String()
	if !strings.Contains(out, "could not create indexes") || !strings.Contains(out, "could not write migration log") {
		t.Fatalf("missing warnings:\n%s", out)
	}
}

func TestRun_EmptyTree(t *testing.T) {
	store := newFakeStore()
	m := New(store, WithLogger(quietLogger()))
	rep, err := m.Run(context.Background(), nil)
	if err != nil || !rep.Success || rep.Batches != 0 {
		t.Fatalf("empty run: %v %+v", err, rep)
	}
	if len(rep.Levels) != 4 {
		t.Fatalf("levels %+v", rep.Levels)
	}
}
