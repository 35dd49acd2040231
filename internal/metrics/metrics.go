package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tanq16/trawl/internal/utils"
)

const namespace = "trawl"

// Sink exports transfer progress as Prometheus metrics. It implements utils.ProgressSink.
type Sink struct {
	Transfers        *prometheus.CounterVec
	TransferredBytes prometheus.Counter
	ActiveTransfers  prometheus.Gauge
	TransferDuration prometheus.Histogram
	BatchCompleted   prometheus.Gauge

	active sync.Map // transfer id -> struct{}
}

func NewSink() *Sink {
	return &Sink{
		Transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Transfers that reached a terminal state, by status.",
			},
			[]string{"status"},
		),
		TransferredBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transferred_bytes_total",
				Help:      "Bytes written to destination files.",
			},
		),
		ActiveTransfers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transfers",
				Help:      "Transfers currently negotiating or streaming.",
			},
		),
		TransferDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Wall time of finished transfers.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		BatchCompleted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_completed",
				Help:      "Transfers of the current batch that reached a terminal state.",
			},
		),
	}
}

// Register adds the sink's collectors to reg.
func (s *Sink) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.Transfers, s.TransferredBytes, s.ActiveTransfers, s.TransferDuration, s.BatchCompleted} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) TransferPhase(id int, _ utils.Descriptor, phase utils.Phase) {
	if phase == utils.PhaseNegotiating {
		if _, loaded := s.active.LoadOrStore(id, struct{}{}); !loaded {
			s.ActiveTransfers.Inc()
		}
	}
}

func (s *Sink) TransferStarted(int, int64, int64) {}

func (s *Sink) TransferProgress(_ int, delta int64) {
	s.TransferredBytes.Add(float64(delta))
}

func (s *Sink) TransferDone(id int, o utils.Outcome) {
	// transfers canceled before starting were never counted as active
	if _, loaded := s.active.LoadAndDelete(id); loaded {
		s.ActiveTransfers.Dec()
	}
	s.Transfers.WithLabelValues(string(o.Status)).Inc()
	s.TransferDuration.Observe(o.Elapsed.Seconds())
}

func (s *Sink) BatchProgress(done, _ int) {
	s.BatchCompleted.Set(float64(done))
}
