// models/stream.go
package models

// EventType identifies one event on the answer stream.
type EventType string

const (
	// EventToken carries one content fragment of an in-progress answer.
	EventToken EventType = "token"
	// EventComplete is terminal: Content holds the full answer, equal to the
	// concatenation of all preceding token events.
	EventComplete EventType = "complete"
	// EventStopped is terminal: the generation was cancelled by the user.
	EventStopped EventType = "stopped"
	// EventError is terminal: Content holds a user-facing failure message.
	EventError EventType = "error"
)

// StreamEvent is one SSE frame of a streamed answer. Every query produces
// zero or more token events followed by exactly one terminal event.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventStopped || e.Type == EventError
}

// Source is a retrieved chunk citation returned by answer-with-sources.
type Source struct {
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_id"`
	Distance   float64 `json:"distance"`
}

// SourcedAnswer pairs an answer with the chunks that grounded it.
type SourcedAnswer struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}
