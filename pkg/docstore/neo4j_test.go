package docstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record {
	return m.records[m.idx-1]
}

type call struct {
	cypher string
	params map[string]any
}

// mockRunner answers count queries from a queue of totals and records
// every statement it sees.
type mockRunner struct {
	counts []int64
	err    error
	failOn string
	calls  []call
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	m.calls = append(m.calls, call{cypher, params})
	if m.err != nil && (m.failOn == "" || strings.Contains(cypher, m.failOn)) {
		return nil, m.err
	}
	if strings.Contains(cypher, "AS total") || strings.Contains(cypher, "AS deleted") {
		var n int64
		if len(m.counts) > 0 {
			n, m.counts = m.counts[0], m.counts[1:]
		}
		key := "total"
		if strings.Contains(cypher, "AS deleted") {
			key = "deleted"
		}
		return &mockResult{records: []*neo4j.Record{{Keys: []string{key}, Values: []any{n}}}}, nil
	}
	return &mockResult{}, nil
}

func (m *mockRunner) Close(ctx context.Context) error { return nil }

func newTestStore(r *mockRunner) *Neo4j {
	s := NewNeo4j(nil, "")
	s.newSession = func(ctx context.Context) runner { return r }
	return s
}

// --- Tests ---

func TestNeo4j_InsertUpsertsAndCountsRejected(t *testing.T) {
	r := &mockRunner{counts: []int64{10, 12}}
	s := newTestStore(r)
	docs := []Doc{
		QuestionDoc{QuestionID: "q1", ExamID: "upsc", SubjectID: "gs", PaperID: "p1"},
		QuestionDoc{QuestionID: "q2", ExamID: "upsc", SubjectID: "gs", PaperID: "p1"},
		QuestionDoc{QuestionID: "q1", ExamID: "upsc", SubjectID: "gs", PaperID: "p2"},
	}
	res, err := s.Insert(context.Background(), Questions, docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 2 || res.Rejected != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected count, upsert, count; got %d calls", len(r.calls))
	}
	upsert := r.calls[1]
	want := "UNWIND $rows AS row MERGE (n:Question {questionId: row.questionId}) SET n += row WITH n, row MATCH (p:QuestionPaper {examId: row.examId, subjectId: row.subjectId, paperId: row.paperId}) MERGE (p)-[:HAS_QUESTION]->(n)"
	if upsert.cypher != want {
		t.Fatalf("unexpected cypher:\n%s\nwant:\n%s", upsert.cypher, want)
	}
	rows, ok := upsert.params["rows"].([]map[string]any)
	if !ok || len(rows) != 3 || rows[2]["paperId"] != "p2" {
		t.Fatalf("unexpected rows %v", upsert.params["rows"])
	}
}

func TestNeo4j_InsertEmptyIsNoop(t *testing.T) {
	r := &mockRunner{}
	res, err := newTestStore(r).Insert(context.Background(), Exams, nil)
	if err != nil || res != (InsertResult{}) || len(r.calls) != 0 {
		t.Fatalf("expected no-op, got %+v err=%v calls=%d", res, err, len(r.calls))
	}
}

func TestNeo4j_InsertError(t *testing.T) {
	r := &mockRunner{err: errors.New("db down"), failOn: "UNWIND"}
	_, err := newTestStore(r).Insert(context.Background(), Exams, []Doc{ExamDoc{ExamID: "upsc"}})
	if err == nil || !strings.Contains(err.Error(), "docstore: insert exams: db down") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
}

func TestNeo4j_UnknownCollection(t *testing.T) {
	s := newTestStore(&mockRunner{})
	if _, err := s.Count(context.Background(), "users"); err == nil {
		t.Fatal("expected error for unknown collection")
	}
	if _, err := s.Insert(context.Background(), "users", []Doc{ExamDoc{}}); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}

func TestNeo4j_ClearAndCount(t *testing.T) {
	r := &mockRunner{counts: []int64{2, 3, 0, 7, 42}}
	s := newTestStore(r)
	deleted, err := s.Clear(context.Background(), TreeCollections...)
	if err != nil {
		t.Fatal(err)
	}
	if deleted[Exams] != 2 || deleted[Subjects] != 3 || deleted[Questions] != 7 {
		t.Fatalf("unexpected deleted counts %v", deleted)
	}
	if !strings.HasPrefix(r.calls[2].cypher, "MATCH (n:QuestionPaper) DETACH DELETE n") {
		t.Fatalf("unexpected clear cypher %s", r.calls[2].cypher)
	}
	n, err := s.Count(context.Background(), Questions)
	if err != nil || n != 42 {
		t.Fatalf("count = %d err=%v", n, err)
	}
}

func TestNeo4j_EnsureIndexes(t *testing.T) {
	r := &mockRunner{}
	if err := newTestStore(r).EnsureIndexes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != len(neo4jSchema) {
		t.Fatalf("expected %d schema statements, got %d", len(neo4jSchema), len(r.calls))
	}
	r = &mockRunner{err: errors.New("no permission")}
	if err := newTestStore(r).EnsureIndexes(context.Background()); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestNeo4j_PingAndLog(t *testing.T) {
	r := &mockRunner{counts: []int64{0, 1}}
	s := newTestStore(r)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	entry := MigrationLog{RunID: "run-1", Timestamp: time.Now(), Success: true}
	if err := s.LogMigration(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
	last := r.calls[len(r.calls)-2]
	if !strings.Contains(last.cypher, "MERGE (n:MigrationLog {runId: row.runId})") {
		t.Fatalf("unexpected log cypher %s", last.cypher)
	}
	if strings.Contains(last.cypher, "MATCH (p:") {
		t.Fatal("migration logs have no parent")
	}
}

func TestUpsertCypher_SubjectLinksToExam(t *testing.T) {
	got := upsertCypher(nodeSpecs[Subjects])
	want := "UNWIND $rows AS row MERGE (n:Subject {examId: row.examId, subjectId: row.subjectId}) SET n += row WITH n, row MATCH (p:Exam {examId: row.examId}) MERGE (p)-[:HAS_SUBJECT]->(n)"
	if got != want {
		t.Fatalf("got %s", got)
	}
}

func TestQuestionDocProps(t *testing.T) {
	d := QuestionDoc{QuestionID: "q1", Options: []OptionDoc{{OptionID: "a", Text: "Delhi"}}}
	p := d.Props()
	if p["options"] != `[{"optionId":"a","text":"Delhi"}]` {
		t.Fatalf("unexpected options encoding %v", p["options"])
	}
	if tags, ok := p["tags"].([]string); !ok || tags == nil {
		t.Fatal("expected empty tag list rather than nil")
	}
}

func TestSession_FallsBackToDriver(t *testing.T) {
	fd := &fakeDriver{}
	s := NewNeo4j(fd, "corpus")
	if _, ok := s.session(context.Background()).(*neo4jSessionAdapter); !ok {
		t.Fatal("expected neo4jSessionAdapter")
	}
	if fd.cfg.DatabaseName != "corpus" {
		t.Fatalf("expected database corpus, got %q", fd.cfg.DatabaseName)
	}
}

type fakeDriver struct {
	neo4j.DriverWithContext
	cfg neo4j.SessionConfig
}

type fakeSession struct {
	neo4j.SessionWithContext
}

func (d *fakeDriver) NewSession(_ context.Context, cfg neo4j.SessionConfig) neo4j.SessionWithContext {
	d.cfg = cfg
	return &fakeSession{}
}
