package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

// OrchestratorMetrics implements ports.RunObserver.
type OrchestratorMetrics struct {
	service string

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	retrievedDocuments *prometheus.HistogramVec
	generationsTotal   *prometheus.CounterVec
}

func NewOrchestratorMetrics(registerer prometheus.Registerer, service string) *OrchestratorMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Finished runs by route and outcome.",
		},
		[]string{"service", "route", "outcome"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds by route.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "route"},
	)
	retrievedDocuments := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "retrieved_documents",
			Help:      "Documents returned per retriever call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 50, 100, 250},
		},
		[]string{"service", "retriever"},
	)
	generationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "generations_total",
			Help:      "Model calls by stream tag.",
		},
		[]string{"service", "tag"},
	)

	registerer.MustRegister(runsTotal, runDuration, retrievedDocuments, generationsTotal)

	return &OrchestratorMetrics{
		service:            service,
		runsTotal:          runsTotal,
		runDuration:        runDuration,
		retrievedDocuments: retrievedDocuments,
		generationsTotal:   generationsTotal,
	}
}

func (m *OrchestratorMetrics) ObserveRun(route domain.Route, outcome string, elapsed time.Duration) {
	name := route.String()
	if name == "" {
		name = "unset"
	}
	m.runsTotal.WithLabelValues(m.service, name, outcome).Inc()
	m.runDuration.WithLabelValues(m.service, name).Observe(elapsed.Seconds())
}

func (m *OrchestratorMetrics) ObserveRetrieval(retriever string, documents int) {
	m.retrievedDocuments.WithLabelValues(m.service, retriever).Observe(float64(documents))
}

func (m *OrchestratorMetrics) ObserveGeneration(tag domain.StreamTag) {
	label := string(tag)
	if label == "" {
		label = "internal"
	}
	m.generationsTotal.WithLabelValues(m.service, label).Inc()
}

var _ ports.RunObserver = (*OrchestratorMetrics)(nil)
