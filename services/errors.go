package services

import (
	"errors"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrGenerationStopped signals a user-initiated cancellation. It is a
// distinct terminal outcome, never surfaced as an error event.
var ErrGenerationStopped = errors.New("generation stopped by user")

// ErrGenerationActive is returned when a query arrives for a session that
// already has a generation in flight (single-flight contract).
var ErrGenerationActive = errors.New("a response is already being generated for this chat")

// FailureClass buckets language-model failures for the retry policy.
type FailureClass int

const (
	// FailureTransient: 5xx-class or timeout - retried with backoff.
	FailureTransient FailureClass = iota
	// FailureInvalid: 400-class bad request - never retried.
	FailureInvalid
	// FailureUnauthorized: 401/403 auth failures - never retried.
	FailureUnauthorized
	// FailureRateLimited: 429/quota - never retried, user waits.
	FailureRateLimited
	// FailureUnknown: anything else - not retried, generic guidance.
	FailureUnknown
)

// ClassifyModelError maps a language-model failure to its class. Status
// codes are preferred; string matching covers providers that only surface
// textual errors.
func ClassifyModelError(err error) FailureClass {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code >= 500:
			return FailureTransient
		case gerr.Code == 429:
			return FailureRateLimited
		case gerr.Code == 401 || gerr.Code == 403:
			return FailureUnauthorized
		case gerr.Code >= 400:
			return FailureInvalid
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return FailureTransient
	case strings.Contains(msg, "429"), strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return FailureRateLimited
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission"):
		return FailureUnauthorized
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid"):
		return FailureInvalid
	default:
		return FailureUnknown
	}
}

// Retryable reports whether a failure class is worth retrying.
func (c FailureClass) Retryable() bool {
	return c == FailureTransient
}

// RemediationMessage renders category-specific, user-facing guidance for a
// failed model call.
func RemediationMessage(class FailureClass, err error) string {
	switch class {
	case FailureTransient:
		return "🔧 The AI service is temporarily unavailable. This could be due to:\n" +
			"• API quota limits reached\n" +
			"• Temporary service outage\n" +
			"• High request volume\n\n" +
			"Please try again in a few minutes."
	case FailureInvalid:
		return "❌ Invalid request to the AI service. Please check:\n" +
			"• Your API key is valid\n" +
			"• The request format is correct\n" +
			"• Try rephrasing your question"
	case FailureUnauthorized:
		return "🔑 Authentication failed with the AI service. Please verify:\n" +
			"• Your API key is correct\n" +
			"• The API key has the necessary permissions\n" +
			"• The API is enabled in your cloud project"
	case FailureRateLimited:
		return "⏱️ Rate limit exceeded. Please:\n" +
			"• Wait a few minutes before trying again\n" +
			"• Check your API quota limits\n" +
			"• Consider upgrading your API plan if needed"
	default:
		return "❌ I encountered an error while processing your question:\n" + err.Error() + "\n\n" +
			"💡 Troubleshooting tips:\n" +
			"• Check your internet connection\n" +
			"• Verify your API key is valid\n" +
			"• Try asking a simpler question"
	}
}
