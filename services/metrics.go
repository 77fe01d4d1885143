package services

import "github.com/prometheus/client_golang/prometheus"

var (
	papersIngested      prometheus.Counter
	ingestConflicts     prometheus.Counter
	ingestDuration      prometheus.Histogram
	metadataResolutions *prometheus.CounterVec
	referenceOutcomes   *prometheus.CounterVec
	chunkOutcomes       *prometheus.CounterVec
)

func init() {
	papersIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_ingested_total",
			Help: "Total number of papers stored, including recursively ingested references.",
		},
	)
	ingestConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paper_ingest_conflicts_total",
			Help: "Total number of ingestions rejected because the file was already stored.",
		},
	)
	ingestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paper_ingest_duration_seconds",
			Help:    "Wall time of successful paper ingestions.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	metadataResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_metadata_resolutions_total",
			Help: "Metadata resolutions by the strategy that succeeded.",
		},
		[]string{"strategy"},
	)
	referenceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_reference_outcomes_total",
			Help: "Parsed references by resolution outcome.",
		},
		[]string{"outcome"},
	)
	chunkOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paper_embedding_chunks_total",
			Help: "Embedding chunks by outcome.",
		},
		[]string{"outcome"},
	)
	prometheus.MustRegister(papersIngested, ingestConflicts, ingestDuration,
		metadataResolutions, referenceOutcomes, chunkOutcomes)
}
