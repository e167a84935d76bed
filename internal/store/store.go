// Package store provides durable persistence for chats and their messages.
package store

import (
	"context"
	"errors"
	"time"

	"docchat-backend/models"
)

// ErrChatNotFound is returned when a chat id has no durable record.
var ErrChatNotFound = errors.New("chat not found")

// Stats summarizes the durable store for health reporting.
type Stats struct {
	TotalChats    int64 `json:"total_chats"`
	TotalMessages int64 `json:"total_messages"`
}

// Store is the durable source of truth for chats and ordered messages.
// Resident query engines are a rebuildable cache on top of it.
type Store interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ChatExists(ctx context.Context, id string) (bool, error)
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
	UpdateChatTitle(ctx context.Context, id, title string) error

	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)

	// DeleteChat removes the chat record and cascades to its messages.
	DeleteChat(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)

	// CleanupOldChats deletes chats older than the cutoff (messages cascade)
	// and returns the document paths of the deleted chats so the caller can
	// remove the files.
	CleanupOldChats(ctx context.Context, olderThan time.Duration) ([]string, error)
}
