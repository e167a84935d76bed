package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"docchat-backend/internal/logger"
	"docchat-backend/internal/store"
	"docchat-backend/models"

	"github.com/google/uuid"
)

// Session is the resident engine for one chat. The durable chat record is
// the source of truth; a Session is a rebuildable cache around it.
type Session struct {
	ID           string
	CreatedAt    time.Time
	DocumentPath string
	ChunkCount   int

	engine *QAEngine

	// Generation state: at most one active generation per session. Guarded
	// by the manager's registry mutex.
	generating bool
	cancel     *CancelToken
}

// SessionManager owns the mapping from chat id to resident session, using
// the durable store as ground truth and rehydrating evicted sessions from
// the stored document on demand.
type SessionManager struct {
	store     store.Store
	extractor TextExtractor
	embedder  EmbeddingProvider
	llm       LanguageModel
	chunker   *TextChunker
	retrieval RetrieverOptions

	mu       sync.Mutex
	resident map[string]*Session
}

func NewSessionManager(
	st store.Store,
	extractor TextExtractor,
	embedder EmbeddingProvider,
	llm LanguageModel,
	chunker *TextChunker,
	retrieval RetrieverOptions,
) *SessionManager {
	return &SessionManager{
		store:     st,
		extractor: extractor,
		embedder:  embedder,
		llm:       llm,
		chunker:   chunker,
		retrieval: retrieval.withDefaults(),
		resident:  make(map[string]*Session),
	}
}

// CreateSession ingests an uploaded document synchronously: extract, chunk,
// index, persist the chat record and the initial assistant message, then
// register the resident session. Any failing step aborts the upload and
// removes the document file so no orphaned state remains.
func (sm *SessionManager) CreateSession(ctx context.Context, filename, path string) (*models.Chat, error) {
	chatID := uuid.NewString()

	session, chunkCount, err := sm.buildSession(ctx, chatID, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	chat := &models.Chat{
		ID:               chatID,
		Title:            filename,
		DocumentFilename: filename,
		DocumentPath:     path,
		ChunkCount:       chunkCount,
		CreatedAt:        time.Now(),
	}
	if err := sm.store.CreateChat(ctx, chat); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to persist chat: %w", err)
	}

	welcome := &models.Message{
		ChatID: chatID,
		Role:   models.RoleAssistant,
		Content: fmt.Sprintf("✅ Document '%s' processed successfully! I've analyzed %d chunks of text. "+
			"You can now ask me questions about this document.", filename, chunkCount),
	}
	if err := sm.store.AddMessage(ctx, welcome); err != nil {
		// Roll back the partial record and the file: no orphaned state
		sm.store.DeleteChat(ctx, chatID)
		os.Remove(path)
		return nil, fmt.Errorf("failed to persist initial message: %w", err)
	}

	sm.mu.Lock()
	sm.resident[chatID] = session
	sm.mu.Unlock()

	logger.Info("session created", "chat_id", chatID, "filename", filename, "chunks", chunkCount)
	return chat, nil
}

// buildSession runs the extract -> chunk -> index pipeline for a document.
func (sm *SessionManager) buildSession(ctx context.Context, chatID, path string) (*Session, int, error) {
	text, err := sm.extractor.Extract(path)
	if err != nil {
		return nil, 0, fmt.Errorf("text extraction failed: %w", err)
	}

	chunks := sm.chunker.ChunkText(text, chatID)
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("document produced no usable text chunks")
	}

	index, err := BuildIndex(ctx, sm.embedder, chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build document index: %w", err)
	}

	return &Session{
		ID:           chatID,
		CreatedAt:    time.Now(),
		DocumentPath: path,
		ChunkCount:   len(chunks),
		engine:       NewQAEngine(index, sm.llm, sm.retrieval),
	}, len(chunks), nil
}

// acquire resolves a resident session, rehydrating from the durable record
// when the in-memory engine was lost (restart or eviction).
func (sm *SessionManager) acquire(ctx context.Context, chatID string) (*Session, error) {
	sm.mu.Lock()
	if session, ok := sm.resident[chatID]; ok {
		sm.mu.Unlock()
		return session, nil
	}
	sm.mu.Unlock()

	// Cache miss: the durable store is ground truth
	chat, err := sm.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	logger.Info("rehydrating session", "chat_id", chatID, "document", chat.DocumentFilename)
	session, _, err := sm.buildSession(ctx, chatID, chat.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate query engine: %w", err)
	}
	session.CreatedAt = chat.CreatedAt

	sm.mu.Lock()
	defer sm.mu.Unlock()
	// Another request may have rehydrated concurrently; keep the first
	if existing, ok := sm.resident[chatID]; ok {
		return existing, nil
	}
	sm.resident[chatID] = session
	return session, nil
}

// Ask answers one question on a chat, streaming events into emit. The
// session enforces a single-flight contract: a second query while one is
// active is rejected with ErrGenerationActive.
func (sm *SessionManager) Ask(ctx context.Context, chatID, question string, emit EventSink) error {
	exists, err := sm.store.ChatExists(ctx, chatID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrChatNotFound
	}

	session, err := sm.acquire(ctx, chatID)
	if err != nil {
		return err
	}

	cancel, err := sm.beginAnswer(session)
	if err != nil {
		return err
	}
	defer sm.endAnswer(session)

	// Persist the user turn before generating
	userMsg := &models.Message{ChatID: chatID, Role: models.RoleUser, Content: question}
	if err := sm.store.AddMessage(ctx, userMsg); err != nil {
		return err
	}
	sm.maybeSetTitle(ctx, chatID, question)

	answer, terminal := session.engine.Answer(ctx, question, cancel, emit)

	switch terminal {
	case models.EventComplete:
		msg := &models.Message{ChatID: chatID, Role: models.RoleAssistant, Content: answer}
		if err := sm.store.AddMessage(ctx, msg); err != nil {
			logger.Error("failed to persist assistant message", "chat_id", chatID, "error", err)
		}
	case models.EventError:
		// Keep the failure in history like any assistant turn
		msg := &models.Message{ChatID: chatID, Role: models.RoleAssistant, Content: answer}
		if err := sm.store.AddMessage(ctx, msg); err != nil {
			logger.Error("failed to persist error message", "chat_id", chatID, "error", err)
		}
	case models.EventStopped:
		logger.Info("generation stopped by user", "chat_id", chatID)
	}
	return nil
}

// AnswerWithSources answers without streaming, returning citations.
func (sm *SessionManager) AnswerWithSources(ctx context.Context, chatID, question string) (*models.SourcedAnswer, error) {
	exists, err := sm.store.ChatExists(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrChatNotFound
	}
	session, err := sm.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return session.engine.AnswerWithSources(ctx, question)
}

// Summary produces a capped summary of the chat's document.
func (sm *SessionManager) Summary(ctx context.Context, chatID string, maxLength int) (string, error) {
	session, err := sm.acquire(ctx, chatID)
	if err != nil {
		return "", err
	}
	return session.engine.DocumentSummary(ctx, maxLength)
}

// SuggestQuestions proposes questions a user might ask about the document.
func (sm *SessionManager) SuggestQuestions(ctx context.Context, chatID string) ([]string, error) {
	session, err := sm.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return session.engine.SuggestQuestions(ctx)
}

// beginAnswer transitions the session into its answering state and hands
// out a fresh per-session cancellation token.
func (sm *SessionManager) beginAnswer(session *Session) (*CancelToken, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if session.generating {
		return nil, ErrGenerationActive
	}
	session.generating = true
	session.cancel = &CancelToken{}
	return session.cancel, nil
}

func (sm *SessionManager) endAnswer(session *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	session.generating = false
	session.cancel = nil
}

// Stop flips the cancellation token of the chat's active generation.
// Stopping an idle or unknown chat is a no-op, not an error.
func (sm *SessionManager) Stop(chatID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	session, ok := sm.resident[chatID]
	if !ok || !session.generating || session.cancel == nil {
		return false
	}
	session.cancel.Cancel()
	return true
}

// Delete evicts the session: any in-flight generation is stopped first,
// then the resident engine, the document file and the durable record (with
// its messages) are removed.
func (sm *SessionManager) Delete(ctx context.Context, chatID string) error {
	chat, err := sm.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	sm.mu.Lock()
	if session, ok := sm.resident[chatID]; ok {
		if session.generating && session.cancel != nil {
			session.cancel.Cancel()
		}
		delete(sm.resident, chatID)
	}
	sm.mu.Unlock()

	if chat.DocumentPath != "" {
		if err := os.Remove(chat.DocumentPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("could not delete document file", "path", chat.DocumentPath, "error", err)
		}
	}

	if err := sm.store.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	logger.Info("session deleted", "chat_id", chatID)
	return nil
}

// maybeSetTitle renames the chat after its first user message, mirroring
// the upload-time filename title.
func (sm *SessionManager) maybeSetTitle(ctx context.Context, chatID, question string) {
	messages, err := sm.store.ListMessages(ctx, chatID)
	if err != nil {
		return
	}
	userCount := 0
	for _, m := range messages {
		if m.Role == models.RoleUser {
			userCount++
		}
	}
	if userCount != 1 {
		return
	}
	title := strings.TrimSpace(question)
	if len(title) > 50 {
		title = title[:50] + "..."
	}
	if err := sm.store.UpdateChatTitle(ctx, chatID, title); err != nil {
		logger.Warn("failed to update chat title", "chat_id", chatID, "error", err)
	}
}

// ResidentCount reports how many sessions currently hold a live engine.
func (sm *SessionManager) ResidentCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.resident)
}

// ActiveGenerations reports how many sessions are currently answering.
func (sm *SessionManager) ActiveGenerations() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n := 0
	for _, s := range sm.resident {
		if s.generating {
			n++
		}
	}
	return n
}
