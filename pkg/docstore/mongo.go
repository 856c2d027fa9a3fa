package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const duplicateKeyCode = 11000

var mongoIndexes = map[string][]mongo.IndexModel{
	Exams: {
		{Keys: bson.D{{Key: "examId", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Subjects: {
		{Keys: bson.D{{Key: "examId", Value: 1}, {Key: "subjectId", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Papers: {
		{Keys: bson.D{{Key: "examId", Value: 1}, {Key: "subjectId", Value: 1}, {Key: "paperId", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	Questions: {
		{Keys: bson.D{{Key: "questionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "examId", Value: 1}}},
		{Keys: bson.D{{Key: "subjectId", Value: 1}}},
		{Keys: bson.D{{Key: "paperId", Value: 1}}},
		{Keys: bson.D{{Key: "examId", Value: 1}, {Key: "subjectId", Value: 1}}},
	},
	MigrationLogs: {
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	},
}

// Mongo stores one collection per tree level, mirroring the layout the web
// app reads.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// DialMongo connects to uri and selects database.
func DialMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore: mongo connect: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Ping checks the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("docstore: mongo ping: %w", err)
	}
	return nil
}

// Clear deletes every document of the given collections.
func (m *Mongo) Clear(ctx context.Context, colls ...string) (map[string]int64, error) {
	deleted := make(map[string]int64, len(colls))
	for _, coll := range colls {
		res, err := m.db.Collection(coll).DeleteMany(ctx, bson.D{})
		if err != nil {
			return deleted, fmt.Errorf("docstore: clear %s: %w", coll, err)
		}
		deleted[coll] = res.DeletedCount
	}
	return deleted, nil
}

// EnsureIndexes creates the unique and lookup indexes of every collection.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	for _, coll := range []string{Exams, Subjects, Papers, Questions, MigrationLogs} {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, mongoIndexes[coll]); err != nil {
			return fmt.Errorf("docstore: indexes %s: %w", coll, err)
		}
	}
	return nil
}

// Insert writes docs unordered so one duplicate key does not stop the
// rest of the batch. Duplicate-key failures are counted as rejected; any
// other write failure is returned.
func (m *Mongo) Insert(ctx context.Context, coll string, docs []Doc) (InsertResult, error) {
	if len(docs) == 0 {
		return InsertResult{}, nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	_, err := m.db.Collection(coll).InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	res, err := classifyInsert(len(docs), err)
	if err != nil {
		return res, fmt.Errorf("docstore: insert %s: %w", coll, err)
	}
	return res, nil
}

// classifyInsert turns an InsertMany error into counts. It returns an
// error only for failures other than duplicate keys.
func classifyInsert(n int, err error) (InsertResult, error) {
	if err == nil {
		return InsertResult{Written: n}, nil
	}
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return InsertResult{}, err
	}
	rejected := 0
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return InsertResult{}, err
		}
		rejected++
	}
	return InsertResult{Written: n - rejected, Rejected: rejected}, nil
}

// Count returns the number of documents in coll.
func (m *Mongo) Count(ctx context.Context, coll string) (int64, error) {
	n, err := m.db.Collection(coll).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("docstore: count %s: %w", coll, err)
	}
	return n, nil
}

// LogMigration appends an entry to the migrationLogs collection.
func (m *Mongo) LogMigration(ctx context.Context, entry MigrationLog) error {
	if _, err := m.db.Collection(MigrationLogs).InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("docstore: log migration: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
