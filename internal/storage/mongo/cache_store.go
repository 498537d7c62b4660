// Package mongo provides a MongoDB-backed cache store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "renders"

const connectTimeout = 10 * time.Second

// Config selects the deployment, database and collection.
type Config struct {
	URI        string
	DB         string
	Collection string
}

type renderDocument struct {
	ID          bson.ObjectID `bson:"_id"`
	Hash        string        `bson:"hash"`
	URL         string        `bson:"url"`
	RenderDate  time.Time     `bson:"renderDate"`
	LastmodDate time.Time     `bson:"lastmodDate"`
	ContentHash string        `bson:"contentHash"`
	Content     []byte        `bson:"content"`
}

// CacheStore keeps one document per URL hash.
type CacheStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New connects, pings the primary and ensures a unique index on hash.
func New(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("db.uri is required")
	}
	if cfg.DB == "" {
		return nil, fmt.Errorf("db.db is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := &CacheStore{
		client:     client,
		collection: client.Database(cfg.DB).Collection(collection),
	}
	if err := store.ensureIndex(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return store, nil
}

func (s *CacheStore) ensureIndex(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create hash index: %w", err)
	}
	return nil
}

// FindByHash returns the document for urlHash, or nil when absent.
func (s *CacheStore) FindByHash(ctx context.Context, urlHash string) (*crawler.CacheRecord, error) {
	var doc renderDocument
	err := s.collection.FindOne(ctx, hashFilter(urlHash)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find render %s: %w", urlHash, err)
	}
	rec := doc.record()
	return &rec, nil
}

// Save upserts the document matching record's hash.
func (s *CacheStore) Save(ctx context.Context, record crawler.CacheRecord) (bool, error) {
	res, err := s.collection.UpdateOne(ctx,
		hashFilter(record.URLHash),
		updateDocument(record),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("upsert render %s: %w", record.URLHash, err)
	}
	return res.Acknowledged, nil
}

// Close disconnects the client.
func (s *CacheStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

func hashFilter(urlHash string) bson.D {
	return bson.D{{Key: "hash", Value: urlHash}}
}

func updateDocument(rec crawler.CacheRecord) bson.D {
	content := rec.Content
	if content == nil {
		content = []byte{}
	}
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "hash", Value: rec.URLHash},
		{Key: "url", Value: rec.URL},
		{Key: "renderDate", Value: rec.RenderedAt.UTC()},
		{Key: "lastmodDate", Value: rec.SourceModifiedAt.UTC()},
		{Key: "contentHash", Value: rec.ContentHash},
		{Key: "content", Value: content},
	}}}
}

func (d renderDocument) record() crawler.CacheRecord {
	rec := crawler.CacheRecord{
		URLHash:          d.Hash,
		URL:              d.URL,
		RenderedAt:       d.RenderDate.UTC(),
		SourceModifiedAt: d.LastmodDate.UTC(),
		ContentHash:      d.ContentHash,
		Content:          d.Content,
	}
	if !d.ID.IsZero() {
		rec.ID = d.ID.Hex()
	}
	return rec
}
