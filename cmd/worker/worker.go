package main

import (
	"context"
	"log"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/logger"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/store"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	chatStore := store.NewMongoStore(mongoClient, cfg.DBName)
	redisOpt := config.AsynqRedisOpt(cfg)

	// Daily schedule enqueues the cleanup through the same queue the API
	// uses, so manual and scheduled runs share one code path.
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(1).Day().At("03:00").Do(func() {
		task, err := queue.NewChatCleanupTask(cfg.CleanupDays)
		if err != nil {
			logger.Error("failed to create cleanup task", "error", err)
			return
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			logger.Error("failed to enqueue cleanup task", "error", err)
			return
		}
		logger.Info("scheduled cleanup enqueued", "days_old", cfg.CleanupDays)
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Register handlers
	processor := queue.NewCleanupProcessor(chatStore)
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskChatCleanup, processor.ProcessChatCleanup)

	logger.Info("starting worker", "redis", redisOpt.Addr)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
