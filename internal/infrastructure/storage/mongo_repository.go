package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

type outcomeDocument struct {
	ID          string    `bson:"_id"`
	EncounterID string    `bson:"encounter_id"`
	PatientRef  string    `bson:"patient_ref"`
	Fee         float64   `bson:"fee"`
	Status      string    `bson:"status"`
	OrderRef    string    `bson:"order_ref"`
	Message     string    `bson:"message"`
	SyncedAt    time.Time `bson:"synced_at"`
}

// MongoRepository persists sync outcomes into a MongoDB collection.
type MongoRepository struct {
	client *mongo.Client
	col    *mongo.Collection
}

var _ ports.SyncLedger = (*MongoRepository)(nil)

// NewMongoRepository uses the outcome collection of database db.
func NewMongoRepository(client *mongo.Client, db string) *MongoRepository {
	return &MongoRepository{
		client: client,
		col:    client.Database(db).Collection(outcomesTable),
	}
}

// Migrate creates the lookup index and the partial unique index on successes.
func (r *MongoRepository) Migrate(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "encounter_id", Value: 1}, {Key: "status", Value: 1}}},
		{
			Keys: bson.D{{Key: "encounter_id", Value: 1}},
			Options: options.Index().
				SetName(successIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(domain.OutcomeSuccess)}),
		},
	}
	if _, err := r.col.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo migrate %s indexes: %w", outcomesTable, err)
	}
	return nil
}

func (r *MongoRepository) Exists(ctx context.Context, encounterID string, status domain.OutcomeStatus) (bool, error) {
	n, err := r.col.CountDocuments(ctx, statusFilter(bson.M{"encounter_id": encounterID}, status), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count outcomes: %w", err)
	}
	return n > 0, nil
}

func (r *MongoRepository) ProcessedSet(ctx context.Context, ids []string, status domain.OutcomeStatus) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	filter := statusFilter(bson.M{"encounter_id": bson.M{"$in": ids}}, status)
	cur, err := r.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"encounter_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find processed: %w", err)
	}

	var docs []struct {
		EncounterID string `bson:"encounter_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode processed: %w", err)
	}

	result := make(map[string]bool, len(docs))
	for _, doc := range docs {
		result[doc.EncounterID] = true
	}
	return result, nil
}

func (r *MongoRepository) Append(ctx context.Context, rec domain.SyncOutcomeRecord) error {
	if rec.ID == "" || rec.EncounterID == "" {
		return fmt.Errorf("%w: outcome record needs id and encounter id", domain.ErrInvalidInput)
	}
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now()
	}

	_, err := r.col.InsertOne(ctx, outcomeDocument{
		ID:          rec.ID,
		EncounterID: rec.EncounterID,
		PatientRef:  rec.PatientRef,
		Fee:         rec.Fee,
		Status:      string(rec.Status),
		OrderRef:    rec.OrderRef,
		Message:     rec.Message,
		SyncedAt:    rec.SyncedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSuccess, rec.EncounterID)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (r *MongoRepository) History(ctx context.Context, encounterID string) ([]domain.SyncOutcomeRecord, error) {
	cur, err := r.col.Find(ctx, bson.M{"encounter_id": encounterID},
		options.Find().SetSort(bson.D{{Key: "synced_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find history: %w", err)
	}

	var docs []outcomeDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	out := make([]domain.SyncOutcomeRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.SyncOutcomeRecord{
			ID:          doc.ID,
			EncounterID: doc.EncounterID,
			PatientRef:  doc.PatientRef,
			Fee:         doc.Fee,
			Status:      domain.OutcomeStatus(doc.Status),
			OrderRef:    doc.OrderRef,
			Message:     doc.Message,
			SyncedAt:    doc.SyncedAt.UTC(),
		})
	}
	return out, nil
}

// Close disconnects the client.
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func statusFilter(filter bson.M, status domain.OutcomeStatus) bson.M {
	if status != "" {
		filter["status"] = string(status)
	}
	return filter
}
