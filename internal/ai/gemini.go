package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/logger"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// GeminiClient wraps the Gemini generation API behind a circuit breaker and
// a client-side requests-per-minute limiter. It implements the
// services.LanguageModel contract: tokens are delivered through the onToken
// callback as they arrive, and a non-nil callback error aborts the stream
// without counting against the breaker.
type GeminiClient struct {
	client      *genai.Client
	modelName   string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	rpm := cfg.GeminiRPM
	if rpm <= 0 {
		rpm = 10
	}
	// 90% of the RPM budget, with a small burst allowance
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), burst)

	return &GeminiClient{
		client:      client,
		modelName:   cfg.GeminiModel,
		breaker:     breaker,
		rateLimiter: rateLimiter,
	}, nil
}

// Generate streams a completion for the prompt, invoking onToken for each
// text fragment the model produces. The returned string is the full
// concatenated response.
func (gc *GeminiClient) Generate(ctx context.Context, prompt string, onToken func(token string) error) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.modelName),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	// A callback abort (user stop) must not trip the breaker, so it is
	// captured separately and the breaker sees a clean call.
	var callbackErr error
	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.modelName)
		model.SetTemperature(0.7)
		model.SetMaxOutputTokens(2048)

		var answer strings.Builder
		iter := model.GenerateContentStream(ctx, genai.Text(prompt))
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				span.SetAttributes(attribute.Bool("gemini.error", true))
				return nil, err
			}
			token := responseText(resp)
			if token == "" {
				continue
			}
			answer.WriteString(token)
			if onToken != nil {
				if cbErr := onToken(token); cbErr != nil {
					callbackErr = cbErr
					return nil, nil
				}
			}
		}

		if answer.Len() == 0 {
			return nil, fmt.Errorf("empty response from model")
		}
		return answer.String(), nil
	})

	if callbackErr != nil {
		span.SetAttributes(attribute.Bool("gemini.aborted", true))
		return "", callbackErr
	}
	if err != nil {
		if err == gobreaker.ErrOpenState {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return "", fmt.Errorf("ai service temporarily unavailable: %w", err)
		}
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}

	answer := result.(string)
	span.SetAttributes(
		attribute.Bool("gemini.success", true),
		attribute.Int("gemini.response_chars", len(answer)),
	)
	return answer, nil
}

// responseText flattens the text parts of one streamed response chunk.
func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

// Close releases the underlying API client.
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
