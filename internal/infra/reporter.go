package infra

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecore/internal/domain"
)

// Error kinds used as the "kind" label.
const (
	KindDataQuality      = "data_quality"
	KindStateTransition  = "state_transition"
	KindIdentityConflict = "identity_conflict"
	KindOverFill         = "over_fill"
	KindBookOperation    = "book_operation"
	KindIntegrity        = "integrity"
	KindStorage          = "storage"
	KindOther            = "other"
)

// Reporter logs recoverable engine errors and counts them by kind.
// It owns its registry so tests and multiple engines never share counters.
type Reporter struct {
	registry  *prometheus.Registry
	errors    *prometheus.CounterVec
	events    *prometheus.CounterVec
	seqGaps   prometheus.Counter
	lastSeq   prometheus.Gauge
	openOrder prometheus.Gauge
}

func NewReporter() *Reporter {
	r := &Reporter{
		registry: prometheus.NewRegistry(),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "errors_total",
			Help:      "Recoverable engine errors by kind.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "events_total",
			Help:      "Events processed by the sequencer, by type.",
		}, []string{"type"}),
		seqGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "sequence_gaps_total",
			Help:      "Tolerated inbound sequence gaps.",
		}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "last_sequence",
			Help:      "Last applied engine sequence number.",
		}),
		openOrder: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "open_orders",
			Help:      "Orders currently open in the cache.",
		}),
	}
	r.registry.MustRegister(r.errors, r.events, r.seqGaps, r.lastSeq, r.openOrder)
	return r
}

// Report logs err under code and increments the counter for its kind.
func (r *Reporter) Report(code string, err error, attrs ...any) {
	kind := Classify(err)
	r.errors.WithLabelValues(kind).Inc()
	args := append([]any{slog.String("kind", kind), slog.Any("error", err)}, attrs...)
	if kind == KindIntegrity || kind == KindStorage {
		slog.Error(code, args...)
		return
	}
	slog.Warn(code, args...)
}

func (r *Reporter) EventProcessed(eventType string, seq uint64) {
	r.events.WithLabelValues(eventType).Inc()
	r.lastSeq.Set(float64(seq))
}

func (r *Reporter) SequenceGap() { r.seqGaps.Inc() }

func (r *Reporter) SetOpenOrders(n int) { r.openOrder.Set(float64(n)) }

// Handler serves the reporter registry in the Prometheus exposition format.
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Reporter) Registry() *prometheus.Registry { return r.registry }

// Classify maps an error onto one of the Kind labels.
func Classify(err error) string {
	switch {
	case errors.Is(err, domain.ErrDataQuality):
		return KindDataQuality
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return KindStateTransition
	case errors.Is(err, domain.ErrIdentityConflict):
		return KindIdentityConflict
	case errors.Is(err, domain.ErrOverFill):
		return KindOverFill
	case errors.Is(err, domain.ErrInvalidBookOperation):
		return KindBookOperation
	case errors.Is(err, domain.ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindOther
	}
}

// ErrStorage marks persistence failures so they are reported under KindStorage.
var ErrStorage = errors.New("storage failure")
