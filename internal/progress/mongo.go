package progress

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookstream/internal/domain"
)

type progressDoc struct {
	ID        string  `bson:"_id"`
	Position  float64 `bson:"position"`
	Duration  float64 `bson:"duration"`
	Title     string  `bson:"title"`
	UpdatedAt int64   `bson:"updatedAt"`
}

// MongoStore keeps one document per item in a listening_progress
// collection, upserted on every throttled write.
type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{
		collection: client.Database(dbName).Collection("listening_progress"),
		now:        time.Now,
	}
}

func (s *MongoStore) Get(ctx context.Context, itemID domain.ItemID) (domain.ProgressRecord, error) {
	var doc progressDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": string(itemID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ProgressRecord{}, domain.ErrNotFound
		}
		return domain.ProgressRecord{}, err
	}
	return docToRecord(doc), nil
}

func (s *MongoStore) Set(ctx context.Context, rec domain.ProgressRecord) error {
	update := bson.M{
		"$set": bson.M{
			"position":  rec.Position,
			"duration":  rec.Duration,
			"title":     rec.Title,
			"updatedAt": s.now().Unix(),
		},
	}
	_, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(rec.ItemID)},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) ListRecent(ctx context.Context, limit int) ([]domain.ProgressRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []progressDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.ProgressRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, docToRecord(doc))
	}
	return records, nil
}

func docToRecord(doc progressDoc) domain.ProgressRecord {
	return domain.ProgressRecord{
		ItemID:    domain.ItemID(doc.ID),
		Position:  doc.Position,
		Duration:  doc.Duration,
		Title:     doc.Title,
		UpdatedAt: time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}

// Connect dials Mongo with the supplied options applied after the URI.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := []*options.ClientOptions{options.Client().ApplyURI(uri)}
	opts = append(opts, extra...)
	return mongo.Connect(ctx, opts...)
}
