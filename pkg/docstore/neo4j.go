package docstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type parentLink struct {
	label string
	rel   string
	keys  []string
}

type nodeSpec struct {
	label  string
	keys   []string
	parent *parentLink
}

var nodeSpecs = map[string]nodeSpec{
	Exams:    {label: "Exam", keys: []string{"examId"}},
	Subjects: {label: "Subject", keys: []string{"examId", "subjectId"}, parent: &parentLink{"Exam", "HAS_SUBJECT", []string{"examId"}}},
	Papers: {label: "QuestionPaper", keys: []string{"examId", "subjectId", "paperId"},
		parent: &parentLink{"Subject", "HAS_PAPER", []string{"examId", "subjectId"}}},
	Questions: {label: "Question", keys: []string{"questionId"},
		parent: &parentLink{"QuestionPaper", "HAS_QUESTION", []string{"examId", "subjectId", "paperId"}}},
	MigrationLogs: {label: "MigrationLog", keys: []string{"runId"}},
}

var neo4jSchema = []string{
	"CREATE CONSTRAINT exam_key IF NOT EXISTS FOR (n:Exam) REQUIRE n.examId IS UNIQUE",
	"CREATE CONSTRAINT subject_key IF NOT EXISTS FOR (n:Subject) REQUIRE (n.examId, n.subjectId) IS UNIQUE",
	"CREATE CONSTRAINT paper_key IF NOT EXISTS FOR (n:QuestionPaper) REQUIRE (n.examId, n.subjectId, n.paperId) IS UNIQUE",
	"CREATE CONSTRAINT question_key IF NOT EXISTS FOR (n:Question) REQUIRE n.questionId IS UNIQUE",
	"CREATE INDEX question_exam IF NOT EXISTS FOR (n:Question) ON (n.examId)",
	"CREATE INDEX question_subject IF NOT EXISTS FOR (n:Question) ON (n.subjectId)",
	"CREATE INDEX question_paper IF NOT EXISTS FOR (n:Question) ON (n.paperId)",
	"CREATE INDEX question_exam_subject IF NOT EXISTS FOR (n:Question) ON (n.examId, n.subjectId)",
	"CREATE INDEX migration_log_time IF NOT EXISTS FOR (n:MigrationLog) ON (n.timestamp)",
}

// Neo4j stores the corpus as a graph: one node per document, linked
// Exam-[:HAS_SUBJECT]->Subject-[:HAS_PAPER]->QuestionPaper-[:HAS_QUESTION]->Question.
type Neo4j struct {
	driver     neo4j.DriverWithContext
	database   string
	newSession func(ctx context.Context) runner // for testing
}

// NewNeo4j wraps an open driver. An empty database uses the server default.
func NewNeo4j(driver neo4j.DriverWithContext, database string) *Neo4j {
	return &Neo4j{driver: driver, database: database}
}

// DialNeo4j opens a driver with basic auth and verifies connectivity.
func DialNeo4j(ctx context.Context, url, user, pass, database string) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("docstore: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("docstore: neo4j connect: %w", err)
	}
	return NewNeo4j(driver, database), nil
}

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (s *Neo4j) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})}
}

// run executes one statement and returns the first record, if any.
func (s *Neo4j) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.Record, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		return nil, nil
	}
	return res.Record(), nil
}

func specFor(coll string) (nodeSpec, error) {
	spec, ok := nodeSpecs[coll]
	if !ok {
		return nodeSpec{}, fmt.Errorf("docstore: unknown collection %q", coll)
	}
	return spec, nil
}

// Ping runs a trivial query.
func (s *Neo4j) Ping(ctx context.Context) error {
	if _, err := s.run(ctx, "RETURN 1 AS ok", nil); err != nil {
		return fmt.Errorf("docstore: neo4j ping: %w", err)
	}
	return nil
}

// Clear detaches and deletes every node of the given collections and
// returns the number of deleted nodes per collection.
func (s *Neo4j) Clear(ctx context.Context, colls ...string) (map[string]int64, error) {
	deleted := make(map[string]int64, len(colls))
	for _, coll := range colls {
		spec, err := specFor(coll)
		if err != nil {
			return deleted, err
		}
		cypher := fmt.Sprintf("MATCH (n:%s) DETACH DELETE n RETURN count(n) AS deleted", spec.label)
		rec, err := s.run(ctx, cypher, nil)
		if err != nil {
			return deleted, fmt.Errorf("docstore: clear %s: %w", coll, err)
		}
		deleted[coll] = recordInt(rec, "deleted")
	}
	return deleted, nil
}

// EnsureIndexes creates the uniqueness constraints and lookup indexes.
func (s *Neo4j) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range neo4jSchema {
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("docstore: neo4j schema: %w", err)
		}
	}
	return nil
}

// Insert upserts docs on their unique key and links each node to its
// parent. Documents whose key already existed are counted as rejected.
func (s *Neo4j) Insert(ctx context.Context, coll string, docs []Doc) (InsertResult, error) {
	spec, err := specFor(coll)
	if err != nil {
		return InsertResult{}, err
	}
	if len(docs) == 0 {
		return InsertResult{}, nil
	}
	before, err := s.Count(ctx, coll)
	if err != nil {
		return InsertResult{}, err
	}
	rows := make([]map[string]any, len(docs))
	for i, d := range docs {
		rows[i] = d.Props()
	}
	if _, err := s.run(ctx, upsertCypher(spec), map[string]any{"rows": rows}); err != nil {
		return InsertResult{}, fmt.Errorf("docstore: insert %s: %w", coll, err)
	}
	after, err := s.Count(ctx, coll)
	if err != nil {
		return InsertResult{}, err
	}
	written := int(after - before)
	return InsertResult{Written: written, Rejected: len(docs) - written}, nil
}

// Count returns the number of nodes of a collection.
func (s *Neo4j) Count(ctx context.Context, coll string) (int64, error) {
	spec, err := specFor(coll)
	if err != nil {
		return 0, err
	}
	rec, err := s.run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS total", spec.label), nil)
	if err != nil {
		return 0, fmt.Errorf("docstore: count %s: %w", coll, err)
	}
	return recordInt(rec, "total"), nil
}

// LogMigration stores a MigrationLog node.
func (s *Neo4j) LogMigration(ctx context.Context, entry MigrationLog) error {
	_, err := s.Insert(ctx, MigrationLogs, []Doc{entry})
	return err
}

// Close closes the driver.
func (s *Neo4j) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func upsertCypher(spec nodeSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "UNWIND $rows AS row MERGE (n:%s {%s}) SET n += row", spec.label, keyPattern(spec.keys))
	if spec.parent != nil {
		fmt.Fprintf(&b, " WITH n, row MATCH (p:%s {%s}) MERGE (p)-[:%s]->(n)",
			spec.parent.label, keyPattern(spec.parent.keys), spec.parent.rel)
	}
	return b.String()
}

func keyPattern(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: row.%s", k, k)
	}
	return strings.Join(parts, ", ")
}

func recordInt(rec *neo4j.Record, key string) int64 {
	if rec == nil {
		return 0
	}
	v, ok := rec.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
