package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbserve",
		Name:      "documents_ingested_total",
		Help:      "Files uploaded and stored.",
	})

	chunksStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbserve",
		Name:      "chunks_stored_total",
		Help:      "Chunks written to the vector index, after dedup.",
	})

	queriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbserve",
		Name:      "queries_total",
		Help:      "Knowledge base queries served.",
	})
)
