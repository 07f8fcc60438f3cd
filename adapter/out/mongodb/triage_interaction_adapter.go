package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const collectionInteractions = "interactions"

// InteractionAdapter stores interaction records as documents keyed by record id.
type InteractionAdapter struct {
	collection *mongo.Collection
}

func NewInteractionAdapter(db *mongo.Database) *InteractionAdapter {
	return &InteractionAdapter{collection: db.Collection(collectionInteractions)}
}

func (a *InteractionAdapter) Name() string {
	return "interaction_log"
}

// Connect creates the lookup indexes.
func (a *InteractionAdapter) Connect(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "message_id", Value: 1},
				{Key: "interaction_type", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "customer_email", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
		},
	}

	if _, err := a.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to ensure interaction indexes: %w", err)
	}
	return nil
}

// Append inserts a record. A duplicate id means it was already written.
func (a *InteractionAdapter) Append(ctx context.Context, rec *domain.InteractionRecord) error {
	if _, err := a.collection.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

func (a *InteractionAdapter) Query(ctx context.Context, q domain.InteractionQuery) ([]domain.InteractionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := a.collection.Find(ctx, buildInteractionFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer cursor.Close(ctx)

	records := []domain.InteractionRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode interactions: %w", err)
	}
	return records, nil
}

func buildInteractionFilter(q domain.InteractionQuery) bson.M {
	filter := bson.M{}
	if q.MessageID != "" {
		filter["message_id"] = q.MessageID
	}
	if q.CustomerEmail != "" {
		filter["customer_email"] = q.CustomerEmail
	}
	if q.InteractionType != "" {
		filter["interaction_type"] = string(q.InteractionType)
	}

	created := bson.M{}
	if !q.Since.IsZero() {
		created["$gte"] = q.Since
	}
	if !q.Until.IsZero() {
		created["$lt"] = q.Until
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}
	return filter
}

var (
	_ out.InteractionLog = (*InteractionAdapter)(nil)
	_ out.Connector      = (*InteractionAdapter)(nil)
)
