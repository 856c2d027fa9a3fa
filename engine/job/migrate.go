package job

import (
	"context"
	"fmt"
	"time"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/engine/migrate"
	"github.com/examfit/corpus/engine/snapshot"
)

// MigrationEvent is published on SubjectMigrationCompleted.
type MigrationEvent struct {
	RunID    string          `json:"runId"`
	Path     string          `json:"path"`
	Success  bool            `json:"success"`
	Levels   []migrate.Level `json:"levels"`
	Written  int             `json:"written"`
	Rejected int             `json:"rejected"`
	Duration float64         `json:"durationSeconds"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// RunMigration loads the exam snapshot at path and copies it into the
// migrator's store. The completion event is published whether or not the
// migration succeeded.
func RunMigration(ctx context.Context, deps Deps, path string, m *migrate.Migrator) (migrate.Report, error) {
	deps = deps.withDefaults()
	log := deps.Logger.With("job", "migrate")
	start := time.Now()
	defer deps.Metrics.observe(start)

	var c domain.ExamCorpus
	ok, err := snapshot.Load(path, &c)
	if err != nil {
		return migrate.Report{}, err
	}
	if !ok {
		return migrate.Report{}, fmt.Errorf("migrate: %s: snapshot not found", path)
	}
	counts := domain.Count(c.Exams)
	log.Info("migrate: starting", "path", path, "exams", counts.Exams, "subjects", counts.Subjects,
		"papers", counts.Papers, "questions", counts.Questions)

	rep, runErr := m.Run(ctx, c.Exams)
	ev := MigrationEvent{
		RunID:    rep.RunID,
		Path:     path,
		Success:  runErr == nil,
		Levels:   rep.Levels,
		Written:  rep.Written,
		Rejected: rep.Rejected,
		Duration: rep.Duration().Seconds(),
		At:       deps.Now(),
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	if err := deps.Publisher.Publish(ctx, SubjectMigrationCompleted, ev); err != nil {
		log.Warn("migrate: publish failed", "subject", SubjectMigrationCompleted, "error", err)
	}
	return rep, runErr
}
