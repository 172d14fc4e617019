package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aluiziolira/go-scrape-products/models"
)

const (
	defaultMongoDatabase   = "scraper"
	defaultMongoCollection = "products"
)

// MongoStore keeps products as documents in one collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// OpenMongo connects to uri, pings the server and ensures the indexes.
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if database == "" {
		database = defaultMongoDatabase
	}
	if collection == "" {
		collection = defaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "scraped_at", Value: 1}}},
		{Keys: bson.D{{Key: "votes", Value: -1}}},
		{
			Keys:    bson.D{{Key: "name", Value: 1}, {Key: "source_url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	slog.Info("storage ready",
		slog.String("driver", "mongodb"),
		slog.String("database", database),
		slog.String("collection", collection),
	)
	return &MongoStore{client: client, coll: coll, now: time.Now}, nil
}

// Save upserts every record keyed by (name, source_url).
func (s *MongoStore) Save(ctx context.Context, records []models.Product) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	writes := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		writes = append(writes, upsertModel(r, now))
	}

	res, err := s.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk upsert: %w", err)
	}
	return int(res.UpsertedCount + res.MatchedCount), nil
}

// Query returns the most recently scraped products first.
func (s *MongoStore) Query(ctx context.Context, limit int) ([]models.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scraped_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.Product
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return out, nil
}

// Stats aggregates totals over the collection.
func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	cur, err := s.coll.Aggregate(ctx, statsPipeline())
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	defer cur.Close(ctx)

	var rows []Stats
	if err := cur.All(ctx, &rows); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	if len(rows) == 0 {
		return Stats{}, nil
	}
	return rows[0], nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func upsertModel(p models.Product, now time.Time) *mongo.UpdateOneModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.D{{Key: "name", Value: p.Name}, {Key: "source_url", Value: p.SourceURL}}).
		SetUpdate(bson.D{
			{Key: "$set", Value: toDocument(p, now)},
			{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
		}).
		SetUpsert(true)
}

// toDocument maps a product to the fields refreshed on every save.
func toDocument(p models.Product, now time.Time) bson.M {
	doc := bson.M{
		"name":        p.Name,
		"source_url":  p.SourceURL,
		"tagline":     p.Tagline,
		"description": p.Description,
		"url":         p.URL,
		"votes":       p.Votes,
		"comments":    p.Comments,
		"maker":       p.Maker,
		"category":    p.Category,
		"image_url":   p.ImageURL,
		"scraped_at":  p.ScrapedAt.UTC(),
		"updated_at":  now,
	}
	if p.LaunchDate != nil {
		doc["launch_date"] = p.LaunchDate.UTC()
	}
	return doc
}

func statsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_products", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "sources", Value: bson.D{{Key: "$addToSet", Value: "$source_url"}}},
			{Key: "last_scraped", Value: bson.D{{Key: "$max", Value: "$scraped_at"}}},
			{Key: "avg_votes", Value: bson.D{{Key: "$avg", Value: "$votes"}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "total_products", Value: 1},
			{Key: "unique_sources", Value: bson.D{{Key: "$size", Value: "$sources"}}},
			{Key: "last_scraped", Value: 1},
			{Key: "avg_votes", Value: 1},
		}}},
	}
}
