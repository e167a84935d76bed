package store

import (
	"context"
	"fmt"
	"time"

	"docchat-backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on top of the chats and messages collections.
type MongoStore struct {
	chats    *mongo.Collection
	messages *mongo.Collection
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		chats:    db.Collection("chats"),
		messages: db.Collection("messages"),
	}
}

func (s *MongoStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	chat.UpdatedAt = chat.CreatedAt
	_, err := s.chats.InsertOne(ctx, chat)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (s *MongoStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &chat, nil
}

func (s *MongoStore) ChatExists(ctx context.Context, id string) (bool, error) {
	count, err := s.chats.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check chat existence: %w", err)
	}
	return count > 0, nil
}

func (s *MongoStore) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "messages"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "chat_id"},
			{Key: "as", Value: "msgs"},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "message_count", Value: bson.D{{Key: "$size", Value: "$msgs"}}},
		}}},
		{{Key: "$project", Value: bson.D{{Key: "msgs", Value: 0}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
	}

	cursor, err := s.chats.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer cursor.Close(ctx)

	summaries := make([]models.ChatSummary, 0)
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode chats: %w", err)
	}
	return summaries, nil
}

func (s *MongoStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	res, err := s.chats.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"title": title, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update chat title: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (s *MongoStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	_, err = s.chats.UpdateOne(ctx,
		bson.M{"_id": msg.ChatID},
		bson.M{"$set": bson.M{"updated_at": msg.Timestamp}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	cursor, err := s.messages.Find(ctx,
		bson.M{"chat_id": chatID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

func (s *MongoStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrChatNotFound
	}
	// Cascade to messages
	if _, err := s.messages.DeleteMany(ctx, bson.M{"chat_id": id}); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	return nil
}

func (s *MongoStore) Stats(ctx context.Context) (*Stats, error) {
	chatCount, err := s.chats.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count chats: %w", err)
	}
	msgCount, err := s.messages.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	return &Stats{TotalChats: chatCount, TotalMessages: msgCount}, nil
}

func (s *MongoStore) CleanupOldChats(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)

	cursor, err := s.chats.Find(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return nil, fmt.Errorf("failed to find old chats: %w", err)
	}
	defer cursor.Close(ctx)

	var old []models.Chat
	if err := cursor.All(ctx, &old); err != nil {
		return nil, fmt.Errorf("failed to decode old chats: %w", err)
	}
	if len(old) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(old))
	paths := make([]string, 0, len(old))
	for _, c := range old {
		ids = append(ids, c.ID)
		if c.DocumentPath != "" {
			paths = append(paths, c.DocumentPath)
		}
	}

	if _, err := s.chats.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("failed to delete old chats: %w", err)
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"chat_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("failed to delete old messages: %w", err)
	}

	return paths, nil
}
