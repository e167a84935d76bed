package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"docchat-backend/internal/logger"
	"docchat-backend/internal/store"
)

const (
	TaskChatCleanup = "chat:cleanup"
)

type ChatCleanupPayload struct {
	DaysOld int `json:"days_old"`
}

// NewChatCleanupTask creates a task that removes chats older than daysOld,
// along with their messages and stored documents.
func NewChatCleanupTask(daysOld int) (*asynq.Task, error) {
	payload, err := json.Marshal(ChatCleanupPayload{DaysOld: daysOld})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskChatCleanup,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
	), nil
}

// CleanupProcessor handles background maintenance tasks against the chat
// store.
type CleanupProcessor struct {
	store store.Store
}

func NewCleanupProcessor(st store.Store) *CleanupProcessor {
	return &CleanupProcessor{store: st}
}

// ProcessChatCleanup deletes chats older than the payload's cutoff and
// removes their document files from disk.
func (p *CleanupProcessor) ProcessChatCleanup(ctx context.Context, t *asynq.Task) error {
	var payload ChatCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.DaysOld <= 0 {
		payload.DaysOld = 30
	}

	olderThan := time.Duration(payload.DaysOld) * 24 * time.Hour
	logger.Info("running chat cleanup", "days_old", payload.DaysOld)

	docPaths, err := p.store.CleanupOldChats(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("chat cleanup failed: %w", err)
	}

	removed := 0
	for _, path := range docPaths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("could not delete document file", "path", path, "error", err)
			continue
		}
		removed++
	}

	logger.Info("chat cleanup completed", "documents", len(docPaths), "files_removed", removed)
	return nil
}
