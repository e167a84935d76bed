package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"docchat-backend/internal/logger"
	"docchat-backend/models"
)

// LanguageModel is the generation capability consumed by the QA engine.
// When the backend streams, onToken is invoked once per produced token; a
// non-nil error return from onToken aborts the call and is propagated
// unchanged. A non-streaming backend may ignore onToken entirely, in which
// case cancellation is only observed before and after the call.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, onToken func(token string) error) (string, error)
}

// CancelToken is a per-session cooperative stop signal. It is created when a
// generation begins and consumed at every cancellation checkpoint.
type CancelToken struct {
	flag atomic.Bool
}

// Cancel requests the in-flight generation to stop. Idempotent.
func (t *CancelToken) Cancel() { t.flag.Store(true) }

// Cancelled reports whether a stop has been requested.
func (t *CancelToken) Cancelled() bool { return t.flag.Load() }

// EventSink receives ordered stream events from an answer run.
type EventSink func(models.StreamEvent)

const answerPromptTemplate = `You are a helpful AI assistant that answers questions based on the provided document context.
Use the following pieces of context to answer the question at the end.

Context:
%s

Question: %s

Instructions:
1. Answer the question based ONLY on the provided context
2. If the answer cannot be found in the context, say "I cannot find that information in the provided document"
3. Be concise but comprehensive in your response
4. If relevant, quote specific parts of the document
5. Maintain a helpful and professional tone

Answer:`

const stoppedMessage = "⚠️ Chat stopped by user."

// QAEngine answers questions about one indexed document using
// retrieval-augmented generation.
type QAEngine struct {
	index *EmbeddingIndex
	llm   LanguageModel
	opts  RetrieverOptions

	maxRetries int
	// backoff returns the wait before retry number attempt+1. Overridable
	// in tests; the default schedule is 2s, 4s, 6s.
	backoff func(attempt int) time.Duration
	// streamDelay paces token emission so a concurrent stop request is
	// observed with low latency.
	streamDelay time.Duration
}

// NewQAEngine creates an engine over an existing index.
func NewQAEngine(index *EmbeddingIndex, llm LanguageModel, opts RetrieverOptions) *QAEngine {
	return &QAEngine{
		index:      index,
		llm:        llm,
		opts:       opts.withDefaults(),
		maxRetries: 2,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * 2 * time.Second
		},
		streamDelay: 50 * time.Millisecond,
	}
}

// Answer runs the full pipeline for one question and emits an ordered event
// stream: zero or more token events followed by exactly one terminal event
// (complete, stopped or error). When the terminal event is complete, the
// returned string equals the concatenation of all emitted tokens.
//
// Cancellation is cooperative: the token is checked once per token received
// from a streaming backend (aborting the model call) and again before each
// emitted fragment. A backend that never yields can only be cancelled
// before the call starts or after it returns.
func (e *QAEngine) Answer(ctx context.Context, question string, cancel *CancelToken, emit EventSink) (string, models.EventType) {
	if strings.TrimSpace(question) == "" {
		// Validation miss, not a failure: answered like any other message.
		return e.stream(ctx, "Please provide a valid question.", cancel, emit)
	}

	answer, err := e.generate(ctx, question, cancel)
	if err == ErrGenerationStopped {
		emit(models.StreamEvent{Type: models.EventStopped, Content: stoppedMessage})
		return "", models.EventStopped
	}
	if err != nil {
		msg := RemediationMessage(ClassifyModelError(err), err)
		emit(models.StreamEvent{Type: models.EventError, Content: msg})
		return msg, models.EventError
	}

	return e.stream(ctx, answer, cancel, emit)
}

// generate retrieves context, builds the grounding prompt and invokes the
// model with the retry policy: transient failures get up to maxRetries
// attempts with backoff, permanent failures surface immediately.
func (e *QAEngine) generate(ctx context.Context, question string, cancel *CancelToken) (string, error) {
	retrieved, err := RetrieveWithBudget(ctx, e.index, question, e.opts)
	if err != nil {
		return "", err
	}
	prompt := e.buildPrompt(question, retrieved)

	for attempt := 0; ; attempt++ {
		if cancel.Cancelled() {
			return "", ErrGenerationStopped
		}

		answer, err := e.llm.Generate(ctx, prompt, func(string) error {
			// Checkpoint once per received token so a stop aborts the call
			if cancel.Cancelled() {
				return ErrGenerationStopped
			}
			return nil
		})
		if err == nil {
			return answer, nil
		}
		if err == ErrGenerationStopped {
			return "", err
		}

		class := ClassifyModelError(err)
		if !class.Retryable() || attempt >= e.maxRetries {
			logger.Error("model call failed", "attempt", attempt+1, "error", err)
			return "", err
		}

		wait := e.backoff(attempt)
		logger.Warn("transient model failure, retrying", "attempt", attempt+1, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// stream delivers an answer as ordered token events whose concatenation
// equals the final complete event, with a cancellation checkpoint before
// each fragment.
func (e *QAEngine) stream(ctx context.Context, answer string, cancel *CancelToken, emit EventSink) (string, models.EventType) {
	for _, token := range splitTokens(answer) {
		if cancel.Cancelled() || ctx.Err() != nil {
			emit(models.StreamEvent{Type: models.EventStopped, Content: stoppedMessage})
			return "", models.EventStopped
		}
		emit(models.StreamEvent{Type: models.EventToken, Content: token})
		if e.streamDelay > 0 {
			time.Sleep(e.streamDelay)
		}
	}

	if cancel.Cancelled() {
		emit(models.StreamEvent{Type: models.EventStopped, Content: stoppedMessage})
		return "", models.EventStopped
	}
	emit(models.StreamEvent{Type: models.EventComplete, Content: answer})
	return answer, models.EventComplete
}

// AnswerWithSources answers without streaming and returns the grounding
// chunks with a source-density confidence heuristic (not a calibrated
// probability).
func (e *QAEngine) AnswerWithSources(ctx context.Context, question string) (*models.SourcedAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return &models.SourcedAnswer{Answer: "Please provide a valid question.", Sources: []models.Source{}}, nil
	}

	retrieved, err := RetrieveWithBudget(ctx, e.index, question, e.opts)
	if err != nil {
		return nil, err
	}

	answer, err := e.llm.Generate(ctx, e.buildPrompt(question, retrieved), nil)
	if err != nil {
		return nil, err
	}

	sources := make([]models.Source, 0, len(retrieved))
	for _, r := range retrieved {
		content := r.Chunk.Text
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		sources = append(sources, models.Source{
			Content:    content,
			ChunkIndex: r.Chunk.Index,
			Distance:   r.Distance,
		})
	}

	confidence := float64(len(sources)) / 4.0
	if confidence > 1.0 {
		confidence = 1.0
	}
	return &models.SourcedAnswer{Answer: answer, Sources: sources, Confidence: confidence}, nil
}

// DocumentSummary asks the engine to summarize the indexed document.
func (e *QAEngine) DocumentSummary(ctx context.Context, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = 500
	}
	question := "Please provide a comprehensive summary of this document, including " +
		"its main topics, key points, and overall purpose."

	answer, err := e.generate(ctx, question, &CancelToken{})
	if err != nil {
		return "", err
	}
	if len(answer) > maxLength {
		answer = answer[:maxLength] + "..."
	}
	return answer, nil
}

// SuggestQuestions proposes up to five questions a user might ask about the
// indexed document.
func (e *QAEngine) SuggestQuestions(ctx context.Context) ([]string, error) {
	samples, err := e.index.Query(ctx, "main topics key points", 3)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	var content strings.Builder
	for _, s := range samples {
		text := s.Chunk.Text
		if len(text) > 300 {
			text = text[:300]
		}
		content.WriteString(text)
		content.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Based on the following document content, suggest 5 relevant questions that a user might ask:

Content:
%s

Questions should be:
1. Specific to the document content
2. Useful for understanding key information
3. Varied in scope (some detailed, some general)

Format your response as a numbered list.`, content.String())

	response, err := e.llm.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}

	var questions []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Strip "1. " / "- " prefixes
		if line[0] >= '0' && line[0] <= '9' {
			if _, rest, ok := strings.Cut(line, "."); ok {
				line = strings.TrimSpace(rest)
			}
		} else if strings.HasPrefix(line, "-") {
			line = strings.TrimSpace(line[1:])
		}
		if strings.Contains(line, "?") {
			questions = append(questions, line)
		}
		if len(questions) == 5 {
			break
		}
	}
	return questions, nil
}

// buildPrompt assembles the fixed grounding template around retrieved
// context and the question.
func (e *QAEngine) buildPrompt(question string, retrieved []ScoredChunk) string {
	var contextStr strings.Builder
	for i, r := range retrieved {
		fmt.Fprintf(&contextStr, "Context %d:\n%s\n\n", i+1, r.Chunk.Text)
	}
	if contextStr.Len() == 0 {
		contextStr.WriteString("(no relevant document content was found)\n")
	}
	return fmt.Sprintf(answerPromptTemplate, contextStr.String(), question)
}

// splitTokens slices an answer into word-sized fragments, keeping the
// trailing whitespace attached so the fragment concatenation equals the
// original text exactly.
func splitTokens(answer string) []string {
	if answer == "" {
		return nil
	}
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range answer {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if inSpace && !isSpace {
			tokens = append(tokens, answer[start:i])
			start = i
		}
		inSpace = isSpace
	}
	tokens = append(tokens, answer[start:])
	return tokens
}
