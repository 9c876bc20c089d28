package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_turn_duration_seconds",
		Help:    "End-to-end latency of a chat turn",
		Buckets: prometheus.DefBuckets,
	})

	TurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_turns_total",
		Help: "Chat turns by outcome",
	}, []string{"status"})

	RetrievalResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_retrieval_results",
		Help:    "Number of chunks retrieved per turn",
		Buckets: []float64{0, 1, 2, 4, 8, 16},
	})

	BookingExtractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_extractions_total",
		Help: "Booking extraction attempts by source and outcome",
	}, []string{"source", "outcome"})

	LLMTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Tokens consumed by completion calls",
	}, []string{"kind"})

	DocumentsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_documents_total",
		Help: "Documents ingested",
	})

	ChunksIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_chunks_total",
		Help: "Chunks embedded and indexed",
	})
)

func Init() {
	prometheus.MustRegister(
		TurnDuration,
		TurnsTotal,
		RetrievalResults,
		BookingExtractions,
		LLMTokens,
		DocumentsProcessed,
		ChunksIngested,
	)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
