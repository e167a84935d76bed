package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/logger"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/store"
	"docchat-backend/models"
	"docchat-backend/services"
	"docchat-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// SetupChatRoutes wires the document chat API: upload, streaming chat,
// stop, chat management, health and admin maintenance.
func SetupChatRoutes(router *gin.Engine, cfg *config.Config, manager *services.SessionManager, st store.Store, extractor services.TextExtractor, asynqClient *asynq.Client) {
	router.POST("/upload", handleUpload(cfg, manager, extractor))
	router.POST("/chat", handleChat(manager))
	router.POST("/chat/sources", handleChatWithSources(manager))
	router.POST("/stop", handleStop(manager))

	router.GET("/chats", handleListChats(st))
	router.GET("/chats/:id", handleGetChat(st))
	router.GET("/chats/:id/summary", handleSummary(manager))
	router.GET("/chats/:id/suggestions", handleSuggestions(manager))
	router.DELETE("/chats/:id", handleDeleteChat(manager))

	router.GET("/health", handleHealth(st, manager))

	admin := router.Group("/admin")
	admin.POST("/cleanup", handleCleanup(cfg, asynqClient))
}

// handleUpload ingests a document synchronously: the response is only sent
// once the document is extracted, chunked and indexed, so the chat is
// immediately usable.
func handleUpload(cfg *config.Config, manager *services.SessionManager, extractor services.TextExtractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "No file provided", nil)
			return
		}

		if file.Size > cfg.MaxFileSize {
			utils.RespondWithTooLarge(c, "File exceeds the maximum allowed size", gin.H{
				"max_size": cfg.MaxFileSize,
				"size":     file.Size,
			})
			return
		}

		if !extractor.Supported(file.Filename) {
			utils.RespondWithUnsupportedMedia(c, "Unsupported file type", gin.H{
				"allowed_extensions": cfg.AllowedExtensions,
				"extension":          filepath.Ext(file.Filename),
			})
			return
		}

		// Store under a fresh name so concurrent uploads never collide
		storedName := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
		path := filepath.Join(cfg.FileStorageDir, storedName)
		if err := c.SaveUploadedFile(file, path); err != nil {
			logger.Error("failed to save uploaded file", "filename", file.Filename, "error", err)
			utils.RespondWithInternalError(c, "Failed to store uploaded file", nil)
			return
		}

		start := time.Now()
		chat, err := manager.CreateSession(c.Request.Context(), file.Filename, path)
		if err != nil {
			logger.Error("document ingestion failed", "filename", file.Filename, "error", err)
			utils.RespondWithError(c, http.StatusUnprocessableEntity,
				"ingestion_failed",
				"Failed to process the document",
				gin.H{"reason": err.Error()})
			return
		}
		logger.Info("document ingested", "chat_id", chat.ID, "duration", time.Since(start).String())

		c.JSON(http.StatusCreated, models.UploadResponse{
			ChatID:          chat.ID,
			Filename:        chat.DocumentFilename,
			ChunksProcessed: chat.ChunkCount,
			Status:          "ready",
		})
	}
}

// handleChat streams the answer to one question as server-sent events.
// Every stream carries zero or more token events and exactly one terminal
// event (complete, stopped or error).
func handleChat(manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"reason": err.Error()})
			return
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			utils.RespondWithInternalError(c, "Streaming unsupported", nil)
			return
		}

		streamed := false
		emit := func(event models.StreamEvent) {
			if !streamed {
				streamed = true
				c.Header("Content-Type", "text/event-stream")
				c.Header("Cache-Control", "no-cache")
				c.Header("Connection", "keep-alive")
				c.Header("X-Accel-Buffering", "no")
			}
			data, err := json.Marshal(event)
			if err != nil {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
		}

		err := manager.Ask(c.Request.Context(), req.ChatID, req.Message, emit)
		if err == nil {
			return
		}
		if streamed {
			// Headers are gone; close the stream with a terminal error event
			emit(models.StreamEvent{Type: models.EventError, Content: "An unexpected error occurred."})
			return
		}

		switch {
		case errors.Is(err, store.ErrChatNotFound):
			utils.RespondWithNotFound(c, "Chat not found")
		case errors.Is(err, services.ErrGenerationActive):
			utils.RespondWithConflict(c, "A response is already being generated for this chat", gin.H{
				"chat_id": req.ChatID,
			})
		default:
			logger.Error("chat request failed", "chat_id", req.ChatID, "error", err)
			utils.RespondWithInternalError(c, "Failed to answer the question", nil)
		}
	}
}

// handleChatWithSources answers without streaming and returns the grounding
// chunk citations alongside the answer.
func handleChatWithSources(manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"reason": err.Error()})
			return
		}

		answer, err := manager.AnswerWithSources(c.Request.Context(), req.ChatID, req.Message)
		if errors.Is(err, store.ErrChatNotFound) {
			utils.RespondWithNotFound(c, "Chat not found")
			return
		}
		if err != nil {
			logger.Error("sourced answer failed", "chat_id", req.ChatID, "error", err)
			utils.RespondWithInternalError(c, "Failed to answer the question", nil)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

// handleSummary returns a short summary of the chat's document.
func handleSummary(manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("id")

		maxLength := 500
		if raw := c.Query("max_length"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				maxLength = parsed
			}
		}

		summary, err := manager.Summary(c.Request.Context(), chatID, maxLength)
		if errors.Is(err, store.ErrChatNotFound) {
			utils.RespondWithNotFound(c, "Chat not found")
			return
		}
		if err != nil {
			logger.Error("summary failed", "chat_id", chatID, "error", err)
			utils.RespondWithInternalError(c, "Failed to summarize the document", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "summary": summary})
	}
}

// handleSuggestions returns questions a user might ask about the document.
func handleSuggestions(manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("id")

		questions, err := manager.SuggestQuestions(c.Request.Context(), chatID)
		if errors.Is(err, store.ErrChatNotFound) {
			utils.RespondWithNotFound(c, "Chat not found")
			return
		}
		if err != nil {
			logger.Error("question suggestion failed", "chat_id", chatID, "error", err)
			utils.RespondWithInternalError(c, "Failed to suggest questions", nil)
			return
		}
		if questions == nil {
			questions = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "questions": questions})
	}
}

// handleStop requests cancellation of the chat's active generation.
// Stopping an idle chat succeeds as a no-op.
func handleStop(manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"reason": err.Error()})
			return
		}

		stopped := manager.Stop(req.ChatID)
		status := "no_active_generation"
		if stopped {
			status = "stop_requested"
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": req.ChatID, "status": status})
	}
}

func handleListChats(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats, err := st.ListChats(c.Request.Context())
		if err != nil {
			logger.Error("failed to list chats", "error", err)
			utils.RespondWithInternalError(c, "Failed to list chats", nil)
			return
		}
		if chats == nil {
			chats = []models.ChatSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"chats": chats, "count": len(chats)})
	}
}

func handleGetChat(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("id")

		chat, err := st.GetChat(c.Request.Context(), chatID)
		if errors.Is(err, store.ErrChatNotFound) {
			utils.RespondWithNotFound(c, "Chat not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load chat", nil)
			return
		}

		messages, err := st.ListMessages(c.Request.Context(), chatID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load messages", nil)
			return
		}
		if messages == nil {
			messages = []models.Message{}
		}

		c.JSON(http.StatusOK, models.ChatDetail{
			ID:               chat.ID,
			Title:            chat.Title,
			DocumentFilename: chat.DocumentFilename,
			ChunkCount:       chat.ChunkCount,
			CreatedAt:        chat.CreatedAt,
			Messages:         messages,
		})
	}
}

func handleDeleteChat(manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("id")

		err := manager.Delete(c.Request.Context(), chatID)
		if errors.Is(err, store.ErrChatNotFound) {
			utils.RespondWithNotFound(c, "Chat not found")
			return
		}
		if err != nil {
			logger.Error("failed to delete chat", "chat_id", chatID, "error", err)
			utils.RespondWithInternalError(c, "Failed to delete chat", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "status": "deleted"})
	}
}

func handleHealth(st store.Store, manager *services.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := st.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  "database unreachable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":             "healthy",
			"timestamp":          time.Now(),
			"total_chats":        stats.TotalChats,
			"total_messages":     stats.TotalMessages,
			"resident_sessions":  manager.ResidentCount(),
			"active_generations": manager.ActiveGenerations(),
		})
	}
}

// handleCleanup enqueues a background task that removes chats older than
// the configured retention window.
func handleCleanup(cfg *config.Config, asynqClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		daysOld := cfg.CleanupDays
		if raw := c.Query("days_old"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				utils.RespondWithBadRequest(c, "days_old must be a positive integer", gin.H{"days_old": raw})
				return
			}
			daysOld = parsed
		}

		task, err := queue.NewChatCleanupTask(daysOld)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create cleanup task", nil)
			return
		}

		info, err := asynqClient.Enqueue(task)
		if err != nil {
			logger.Error("failed to enqueue cleanup task", "error", err)
			utils.RespondWithInternalError(c, "Failed to enqueue cleanup task", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"task_id":  info.ID,
			"queue":    info.Queue,
			"days_old": daysOld,
			"status":   "enqueued",
		})
	}
}
