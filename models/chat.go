// models/chat.go
package models

import (
	"time"
)

// Chat is the durable record for one uploaded document and its conversation.
// The durable fields are the source of truth across restarts; the resident
// query engine is rebuilt from the stored document on demand.
type Chat struct {
	ID               string    `bson:"_id" json:"id"`
	Title            string    `bson:"title" json:"title"`
	DocumentFilename string    `bson:"document_filename" json:"document_filename"`
	DocumentPath     string    `bson:"document_path" json:"-"`
	ChunkCount       int       `bson:"chunk_count" json:"chunk_count"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// ChatSummary is the listing view of a chat, message count included.
type ChatSummary struct {
	ID               string    `bson:"_id" json:"id"`
	Title            string    `bson:"title" json:"title"`
	DocumentFilename string    `bson:"document_filename" json:"document"`
	ChunkCount       int       `bson:"chunk_count" json:"chunks_count"`
	MessageCount     int       `bson:"message_count" json:"message_count"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a chat, append-only, ordered by timestamp.
type Message struct {
	ChatID    string    `bson:"chat_id" json:"chat_id"`
	Role      string    `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

type ChatRequest struct {
	ChatID  string `json:"chat_id" binding:"required"`
	Message string `json:"message" binding:"required,max=2000"`
}

type StopRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

type UploadResponse struct {
	ChatID          string `json:"chat_id"`
	Filename        string `json:"filename"`
	ChunksProcessed int    `json:"chunks_processed"`
	Status          string `json:"status"`
}

type ChatDetail struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	DocumentFilename string    `json:"document"`
	ChunkCount       int       `json:"chunks_count"`
	CreatedAt        time.Time `json:"created_at"`
	Messages         []Message `json:"messages"`
}
