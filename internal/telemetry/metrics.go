package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter    metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	IngestionTime     metric.Float64Histogram
	ChunksIndexed     metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
	StreamEvents      metric.Int64Counter
	GenerationRetries metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("docchat-backend")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestionTime, err := meter.Float64Histogram(
		"document.ingestion.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"document.chunks.indexed",
		metric.WithDescription("Total document chunks embedded and indexed"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"retrieval.duration",
		metric.WithDescription("Similarity retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	streamEvents, err := meter.Int64Counter(
		"stream.events.total",
		metric.WithDescription("Total streamed answer events by type"),
	)
	if err != nil {
		return nil, err
	}

	generationRetries, err := meter.Int64Counter(
		"generation.retries.total",
		metric.WithDescription("Total model call retries after transient failures"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:    requestCounter,
		RequestDuration:   requestDuration,
		IngestionTime:     ingestionTime,
		ChunksIndexed:     chunksIndexed,
		RetrievalDuration: retrievalDuration,
		StreamEvents:      streamEvents,
		GenerationRetries: generationRetries,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIngestion records document ingestion metrics
func (m *Metrics) RecordIngestion(duration float64, chunks int, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("ingestion.status", status),
	}

	m.IngestionTime.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if chunks > 0 {
		m.ChunksIndexed.Add(context.Background(), int64(chunks))
	}
}

// RecordRetrieval records similarity retrieval metrics
func (m *Metrics) RecordRetrieval(duration float64, results int) {
	attrs := []attribute.KeyValue{
		attribute.Int("retrieval.results", results),
	}

	m.RetrievalDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordStreamEvent records one streamed answer event
func (m *Metrics) RecordStreamEvent(eventType string) {
	attrs := []attribute.KeyValue{
		attribute.String("stream.event_type", eventType),
	}

	m.StreamEvents.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordGenerationRetry records one retry of a failed model call
func (m *Metrics) RecordGenerationRetry(reason string) {
	attrs := []attribute.KeyValue{
		attribute.String("retry.reason", reason),
	}

	m.GenerationRetries.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
