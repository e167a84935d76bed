package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docchat-backend/internal/store"
	"docchat-backend/models"
)

// memoryStore is an in-memory store.Store for exercising the session
// manager without a database.
type memoryStore struct {
	mu       sync.Mutex
	chats    map[string]*models.Chat
	messages map[string][]models.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		chats:    make(map[string]*models.Chat),
		messages: make(map[string][]models.Message),
	}
}

func (s *memoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *chat
	s.chats[chat.ID] = &copied
	return nil
}

func (s *memoryStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, store.ErrChatNotFound
	}
	copied := *chat
	return &copied, nil
}

func (s *memoryStore) ChatExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[id]
	return ok, nil
}

func (s *memoryStore) ListChats(_ context.Context) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatSummary, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, models.ChatSummary{
			ID:               chat.ID,
			Title:            chat.Title,
			DocumentFilename: chat.DocumentFilename,
			ChunkCount:       chat.ChunkCount,
			MessageCount:     len(s.messages[chat.ID]),
			CreatedAt:        chat.CreatedAt,
		})
	}
	return out, nil
}

func (s *memoryStore) UpdateChatTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return store.ErrChatNotFound
	}
	chat.Title = title
	return nil
}

func (s *memoryStore) AddMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	if copied.Timestamp.IsZero() {
		copied.Timestamp = time.Now()
	}
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], copied)
	return nil
}

func (s *memoryStore) ListMessages(_ context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages[chatID]...), nil
}

func (s *memoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return store.ErrChatNotFound
	}
	delete(s.chats, id)
	delete(s.messages, id)
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (*store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs int64
	for _, m := range s.messages {
		msgs += int64(len(m))
	}
	return &store.Stats{TotalChats: int64(len(s.chats)), TotalMessages: msgs}, nil
}

func (s *memoryStore) CleanupOldChats(_ context.Context, olderThan time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var paths []string
	for id, chat := range s.chats {
		if chat.CreatedAt.Before(cutoff) {
			paths = append(paths, chat.DocumentPath)
			delete(s.chats, id)
			delete(s.messages, id)
		}
	}
	return paths, nil
}

// fileTextExtractor reads the file as plain text regardless of extension.
type fileTextExtractor struct{ extractions int }

func (e *fileTextExtractor) Extract(path string) (string, error) {
	e.extractions++
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (e *fileTextExtractor) Supported(string) bool { return true }

func writeTestDocument(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	content := strings.Repeat("This document describes the testing process in detail. ", 10)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func newTestManager(t *testing.T, st store.Store, llm LanguageModel) (*SessionManager, *fileTextExtractor) {
	t.Helper()
	extractor := &fileTextExtractor{}
	manager := NewSessionManager(st, extractor, &stubEmbedder{}, llm, NewTextChunker(1000, 200), RetrieverOptions{MaxDistance: 2})
	return manager, extractor
}

func disableStreamPacing(t *testing.T, manager *SessionManager, chatID string) {
	t.Helper()
	session, err := manager.acquire(context.Background(), chatID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	session.engine.streamDelay = 0
}

func TestCreateSessionIngestsDocument(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "ok"})
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if chat.ChunkCount == 0 {
		t.Errorf("expected indexed chunks")
	}
	if manager.ResidentCount() != 1 {
		t.Errorf("expected 1 resident session, got %d", manager.ResidentCount())
	}

	// Welcome message is persisted with the record
	messages, _ := st.ListMessages(context.Background(), chat.ID)
	if len(messages) != 1 || messages[0].Role != models.RoleAssistant {
		t.Fatalf("expected one assistant welcome message, got %+v", messages)
	}
	if !strings.Contains(messages[0].Content, "processed successfully") {
		t.Errorf("unexpected welcome message: %q", messages[0].Content)
	}
}

func TestCreateSessionRollsBackOnFailure(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "ok"})

	// Empty document yields no chunks, so ingestion must fail
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("  "), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := manager.CreateSession(context.Background(), "empty.txt", path); err == nil {
		t.Fatalf("expected ingestion failure")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("failed upload must remove the stored file")
	}
	if manager.ResidentCount() != 0 {
		t.Errorf("no session may remain after a failed upload")
	}
	stats, _ := st.Stats(context.Background())
	if stats.TotalChats != 0 {
		t.Errorf("no chat record may remain after a failed upload")
	}
}

func TestAskPersistsTurnsAndSetsTitle(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "the answer"})
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	disableStreamPacing(t, manager, chat.ID)

	question := "What process does this very long question describe in the uploaded document?"
	var events []models.StreamEvent
	if err := manager.Ask(context.Background(), chat.ID, question, collectEvents(&events)); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if last := events[len(events)-1]; last.Type != models.EventComplete {
		t.Fatalf("expected complete, got %s", last.Type)
	}

	messages, _ := st.ListMessages(context.Background(), chat.ID)
	// welcome + user + assistant
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[1].Role != models.RoleUser || messages[1].Content != question {
		t.Errorf("user turn not persisted: %+v", messages[1])
	}
	if messages[2].Role != models.RoleAssistant || messages[2].Content != "the answer" {
		t.Errorf("assistant turn not persisted: %+v", messages[2])
	}

	// Title is the first user message, capped at 50 characters
	updated, _ := st.GetChat(context.Background(), chat.ID)
	if !strings.HasSuffix(updated.Title, "...") || len(updated.Title) != 53 {
		t.Errorf("expected capped title, got %q (%d chars)", updated.Title, len(updated.Title))
	}
}

func TestAskUnknownChat(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "x"})

	err := manager.Ask(context.Background(), "missing", "question", func(models.StreamEvent) {})
	if err != store.ErrChatNotFound {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestSingleFlightPerSession(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "x"})
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	session, err := manager.acquire(context.Background(), chat.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := manager.beginAnswer(session); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if _, err := manager.beginAnswer(session); err != ErrGenerationActive {
		t.Fatalf("expected ErrGenerationActive, got %v", err)
	}

	manager.endAnswer(session)
	if _, err := manager.beginAnswer(session); err != nil {
		t.Errorf("begin after end should succeed: %v", err)
	}
}

func TestStopIdleSessionIsNoOp(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "x"})
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if manager.Stop(chat.ID) {
		t.Errorf("stopping an idle session must be a no-op")
	}
	if manager.Stop("unknown") {
		t.Errorf("stopping an unknown chat must be a no-op")
	}
}

func TestRehydrationAfterEviction(t *testing.T) {
	st := newMemoryStore()
	manager, extractor := newTestManager(t, st, &scriptedModel{answer: "rehydrated answer"})
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Simulate a restart: the resident engine is gone, the record survives
	manager.mu.Lock()
	delete(manager.resident, chat.ID)
	manager.mu.Unlock()

	extractionsBefore := extractor.extractions
	session, err := manager.acquire(context.Background(), chat.ID)
	if err != nil {
		t.Fatalf("rehydration failed: %v", err)
	}
	session.engine.streamDelay = 0
	if extractor.extractions != extractionsBefore+1 {
		t.Errorf("rehydration must re-extract the document")
	}
	if manager.ResidentCount() != 1 {
		t.Errorf("rehydrated session must be resident")
	}

	var events []models.StreamEvent
	if err := manager.Ask(context.Background(), chat.ID, "question", collectEvents(&events)); err != nil {
		t.Fatalf("ask after rehydration: %v", err)
	}
	if last := events[len(events)-1]; last.Type != models.EventComplete || last.Content != "rehydrated answer" {
		t.Errorf("unexpected terminal event after rehydration: %+v", last)
	}
}

func TestDeleteDuringGenerationStopsIt(t *testing.T) {
	st := newMemoryStore()
	model := &scriptedModel{answer: strings.Repeat("word ", 200), yield: true}
	manager, _ := newTestManager(t, st, model)
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	disableStreamPacing(t, manager, chat.ID)

	started := make(chan struct{})
	done := make(chan models.EventType, 1)
	go func() {
		var terminal models.EventType
		first := true
		err := manager.Ask(context.Background(), chat.ID, "question", func(e models.StreamEvent) {
			if first {
				first = false
				close(started)
				// Let the delete land while the model is still yielding
				time.Sleep(50 * time.Millisecond)
			}
			if e.Terminal() {
				terminal = e.Type
			}
		})
		if err != nil {
			t.Errorf("ask: %v", err)
		}
		done <- terminal
	}()

	<-started
	if err := manager.Delete(context.Background(), chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	select {
	case terminal := <-done:
		if terminal != models.EventStopped {
			t.Errorf("expected stopped terminal after delete, got %s", terminal)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("generation did not terminate after delete")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("document file must be removed")
	}
	if exists, _ := st.ChatExists(context.Background(), chat.ID); exists {
		t.Errorf("chat record must be gone")
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	st := newMemoryStore()
	manager, _ := newTestManager(t, st, &scriptedModel{answer: "x"})
	path := writeTestDocument(t)

	chat, err := manager.CreateSession(context.Background(), "doc.txt", path)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := manager.Delete(context.Background(), chat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if manager.ResidentCount() != 0 {
		t.Errorf("session must be evicted")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("document file must be removed")
	}
	if _, err := st.GetChat(context.Background(), chat.ID); err != store.ErrChatNotFound {
		t.Errorf("chat record must be removed, got %v", err)
	}

	// Deleting again reports not found
	if err := manager.Delete(context.Background(), chat.ID); err != store.ErrChatNotFound {
		t.Errorf("expected ErrChatNotFound on second delete, got %v", err)
	}
}
