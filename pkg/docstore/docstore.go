// Package docstore writes the flattened exam corpus to a document store.
// Two backends exist: Neo4j, which upserts nodes on their unique key and
// links them parent to child, and MongoDB, which inserts documents and
// rejects duplicate keys.
package docstore

import (
	"encoding/json"
	"time"
)

// Collection names. The Neo4j backend maps each one to a node label.
const (
	Exams         = "exams"
	Subjects      = "subjects"
	Papers        = "questionPapers"
	Questions     = "questions"
	MigrationLogs = "migrationLogs"
)

// TreeCollections are the collections holding the exam tree, parents first.
var TreeCollections = []string{Exams, Subjects, Papers, Questions}

// Doc is a document that can be written to either backend. Mongo encodes
// the struct through its bson tags; Neo4j stores Props as node properties.
type Doc interface {
	Props() map[string]any
}

// InsertResult counts what a batch insert did. Rejected documents collided
// with an existing unique key.
type InsertResult struct {
	Written  int
	Rejected int
}

// ExamDoc is one exam.
type ExamDoc struct {
	ExamID        string    `bson:"examId" json:"examId"`
	ExamName      string    `bson:"examName" json:"examName"`
	TotalSubjects int       `bson:"totalSubjects" json:"totalSubjects"`
	IsActive      bool      `bson:"isActive" json:"isActive"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	MigratedAt    time.Time `bson:"migratedAt" json:"migratedAt"`
}

func (d ExamDoc) Props() map[string]any {
	return map[string]any{
		"examId":        d.ExamID,
		"examName":      d.ExamName,
		"totalSubjects": d.TotalSubjects,
		"isActive":      d.IsActive,
		"createdAt":     d.CreatedAt,
		"migratedAt":    d.MigratedAt,
	}
}

// SubjectDoc is one subject with a back-reference to its exam.
type SubjectDoc struct {
	ExamID      string    `bson:"examId" json:"examId"`
	SubjectID   string    `bson:"subjectId" json:"subjectId"`
	SubjectName string    `bson:"subjectName" json:"subjectName"`
	TotalPapers int       `bson:"totalPapers" json:"totalPapers"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	MigratedAt  time.Time `bson:"migratedAt" json:"migratedAt"`
}

func (d SubjectDoc) Props() map[string]any {
	return map[string]any{
		"examId":      d.ExamID,
		"subjectId":   d.SubjectID,
		"subjectName": d.SubjectName,
		"totalPapers": d.TotalPapers,
		"createdAt":   d.CreatedAt,
		"migratedAt":  d.MigratedAt,
	}
}

// PaperDoc is one question paper with back-references to exam and subject.
type PaperDoc struct {
	ExamID         string    `bson:"examId" json:"examId"`
	SubjectID      string    `bson:"subjectId" json:"subjectId"`
	PaperID        string    `bson:"paperId" json:"paperId"`
	PaperName      string    `bson:"paperName" json:"paperName"`
	Section        string    `bson:"section" json:"section"`
	TotalQuestions int       `bson:"totalQuestions" json:"totalQuestions"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	MigratedAt     time.Time `bson:"migratedAt" json:"migratedAt"`
}

func (d PaperDoc) Props() map[string]any {
	return map[string]any{
		"examId":         d.ExamID,
		"subjectId":      d.SubjectID,
		"paperId":        d.PaperID,
		"paperName":      d.PaperName,
		"section":        d.Section,
		"totalQuestions": d.TotalQuestions,
		"createdAt":      d.CreatedAt,
		"migratedAt":     d.MigratedAt,
	}
}

// OptionDoc is one answer choice.
type OptionDoc struct {
	OptionID string `bson:"optionId" json:"optionId"`
	Text     string `bson:"text" json:"text"`
}

// QuestionDoc is one question with back-references to its ancestors.
type QuestionDoc struct {
	QuestionID    string      `bson:"questionId" json:"questionId"`
	ExamID        string      `bson:"examId" json:"examId"`
	SubjectID     string      `bson:"subjectId" json:"subjectId"`
	PaperID       string      `bson:"paperId" json:"paperId"`
	Question      string      `bson:"question" json:"question"`
	Options       []OptionDoc `bson:"options" json:"options"`
	CorrectOption string      `bson:"correctOption" json:"correctOption"`
	Explanation   string      `bson:"explanation" json:"explanation"`
	Difficulty    string      `bson:"difficulty" json:"difficulty"`
	Tags          []string    `bson:"tags" json:"tags"`
	Source        string      `bson:"source" json:"source"`
	CreatedAt     time.Time   `bson:"createdAt" json:"createdAt"`
	MigratedAt    time.Time   `bson:"migratedAt" json:"migratedAt"`
}

// Props stores options as a JSON string; Neo4j properties cannot hold
// nested maps.
func (d QuestionDoc) Props() map[string]any {
	opts, _ := json.Marshal(d.Options)
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"questionId":    d.QuestionID,
		"examId":        d.ExamID,
		"subjectId":     d.SubjectID,
		"paperId":       d.PaperID,
		"question":      d.Question,
		"options":       string(opts),
		"correctOption": d.CorrectOption,
		"explanation":   d.Explanation,
		"difficulty":    d.Difficulty,
		"tags":          tags,
		"source":        d.Source,
		"createdAt":     d.CreatedAt,
		"migratedAt":    d.MigratedAt,
	}
}

// LogStats is the statistics block of a migration log entry.
type LogStats struct {
	StartTime      time.Time `bson:"startTime" json:"startTime"`
	EndTime        time.Time `bson:"endTime" json:"endTime"`
	TotalExams     int       `bson:"totalExams" json:"totalExams"`
	TotalSubjects  int       `bson:"totalSubjects" json:"totalSubjects"`
	TotalPapers    int       `bson:"totalPapers" json:"totalPapers"`
	TotalQuestions int       `bson:"totalQuestions" json:"totalQuestions"`
	Rejected       int       `bson:"rejected" json:"rejected"`
	Errors         []string  `bson:"errors" json:"errors"`
}

// MigrationLog records one migration attempt.
type MigrationLog struct {
	RunID           string    `bson:"runId" json:"runId"`
	Timestamp       time.Time `bson:"timestamp" json:"timestamp"`
	Success         bool      `bson:"success" json:"success"`
	Stats           LogStats  `bson:"stats" json:"stats"`
	DurationSeconds float64   `bson:"durationSeconds" json:"durationSeconds"`
}

// Props flattens the stats block for Neo4j.
func (l MigrationLog) Props() map[string]any {
	errs := l.Stats.Errors
	if errs == nil {
		errs = []string{}
	}
	return map[string]any{
		"runId":           l.RunID,
		"timestamp":       l.Timestamp,
		"success":         l.Success,
		"durationSeconds": l.DurationSeconds,
		"startTime":       l.Stats.StartTime,
		"endTime":         l.Stats.EndTime,
		"totalExams":      l.Stats.TotalExams,
		"totalSubjects":   l.Stats.TotalSubjects,
		"totalPapers":     l.Stats.TotalPapers,
		"totalQuestions":  l.Stats.TotalQuestions,
		"rejected":        l.Stats.Rejected,
		"errors":          errs,
	}
}
