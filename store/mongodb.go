package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/debriefhq/debrief/history"
	"github.com/debriefhq/debrief/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is a MongoDB implementation of ConversationStore.
// One document per conversation; the message log is the same encoded blob
// the SQLite backend stores, so both backends share the history codec and
// the same per-conversation append discipline.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	convLocks  *lockTable
	spyLocks   *lockTable
}

// MongoStoreConfig holds configuration for MongoStore
type MongoStoreConfig struct {
	URI        string // MongoDB connection URI (e.g., "mongodb://localhost:27017")
	Database   string // Database name (default: "debrief")
	Collection string // Collection name (default: "conversations")
}

// DefaultMongoStoreConfig returns default configuration
func DefaultMongoStoreConfig() MongoStoreConfig {
	return MongoStoreConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "debrief",
		Collection: "conversations",
	}
}

// conversationDoc is the persisted document shape
type conversationDoc struct {
	ID        string `bson:"_id"`
	SpyID     string `bson:"spy_id"`
	Messages  string `bson:"messages"`
	CreatedAt int64  `bson:"created_at"`
	UpdatedAt int64  `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB conversation store
func NewMongoStore(config MongoStoreConfig) (*MongoStore, error) {
	if config.URI == "" {
		config.URI = "mongodb://localhost:27017"
	}
	if config.Database == "" {
		config.Database = "debrief"
	}
	if config.Collection == "" {
		config.Collection = "conversations"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		convLocks:  newLockTable(),
		spyLocks:   newLockTable(),
	}

	if err := s.initIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

// initIndexes creates the necessary indexes
func (s *MongoStore) initIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "spy_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create spy_id index: %w", err)
	}

	_, err = s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create updated_at index: %w", err)
	}
	return nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func toDoc(conv *model.Conversation) (*conversationDoc, error) {
	blob, err := history.Encode(conv.Messages)
	if err != nil {
		return nil, err
	}
	return &conversationDoc{
		ID:        conv.ID,
		SpyID:     conv.SpyID,
		Messages:  string(blob),
		CreatedAt: conv.CreatedAt.UnixNano(),
		UpdatedAt: conv.UpdatedAt.UnixNano(),
	}, nil
}

func fromDoc(doc *conversationDoc) *model.Conversation {
	return &model.Conversation{
		ID:        doc.ID,
		SpyID:     doc.SpyID,
		Messages:  history.Decode([]byte(doc.Messages)),
		CreatedAt: time.Unix(0, doc.CreatedAt),
		UpdatedAt: time.Unix(0, doc.UpdatedAt),
	}
}

// Create allocates a new empty conversation for a spy
func (s *MongoStore) Create(spyID string) (*model.Conversation, error) {
	conv := model.NewConversation(spyID)
	doc, err := toDoc(conv)
	if err != nil {
		return nil, err
	}

	ctx, cancel := opCtx()
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

// Get retrieves a conversation by ID
func (s *MongoStore) Get(conversationID string) (*model.Conversation, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var doc conversationDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return fromDoc(&doc), nil
}

// GetOrCreateForSpy returns the most-recently-updated conversation for a
// spy, creating one if none exists. Serialized per spy.
func (s *MongoStore) GetOrCreateForSpy(spyID string) (*model.Conversation, error) {
	lock := s.spyLocks.get(spyID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := opCtx()
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	var doc conversationDoc
	err := s.collection.FindOne(ctx, bson.M{"spy_id": spyID}, opts).Decode(&doc)
	if err == nil {
		return fromDoc(&doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to find conversation for spy: %w", err)
	}
	return s.Create(spyID)
}

// Append atomically extends a conversation's message log.
// Read-modify-write on the blob, serialized per conversation.
func (s *MongoStore) Append(conversationID string, msgs ...model.Message) error {
	lock := s.convLocks.get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.Get(conversationID)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, msgs...)
	blob, err := history.Encode(conv.Messages)
	if err != nil {
		return err
	}

	ctx, cancel := opCtx()
	defer cancel()

	_, err = s.collection.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"messages": string(blob), "updated_at": time.Now().UnixNano()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation, reporting whether it existed
func (s *MongoStore) Delete(conversationID string) (bool, error) {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// ListBySpy returns all conversations for a spy, newest first
func (s *MongoStore) ListBySpy(spyID string) ([]*model.Conversation, error) {
	return s.find(bson.M{"spy_id": spyID}, 0, 0)
}

// List returns conversations ordered newest first, with pagination
func (s *MongoStore) List(skip, limit int) ([]*model.Conversation, error) {
	return s.find(bson.M{}, skip, limit)
}

func (s *MongoStore) find(filter bson.M, skip, limit int) ([]*model.Conversation, error) {
	ctx, cancel := opCtx()
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if skip > 0 {
		opts.SetSkip(int64(skip))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer cursor.Close(ctx)

	out := []*model.Conversation{}
	for cursor.Next(ctx) {
		var doc conversationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		out = append(out, fromDoc(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

// Close disconnects from MongoDB
func (s *MongoStore) Close() error {
	ctx, cancel := opCtx()
	defer cancel()
	return s.client.Disconnect(ctx)
}
