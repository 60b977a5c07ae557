// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "reminderd"

// Recorder implements app.Metrics.
type Recorder struct {
	deliveriesStarted  *prometheus.CounterVec
	deliveriesFinished *prometheus.CounterVec
	snoozes            prometheus.Counter
	imported           prometheus.Counter
	exported           *prometheus.CounterVec
	syncPasses         *prometheus.CounterVec
	lastSync           prometheus.Gauge
}

// NewRecorder registers the engine metrics with reg; nil means the default
// registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		deliveriesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "started_total",
			Help:      "Deliveries started, by path (call or notification)",
		}, []string{"path"}),
		deliveriesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "finished_total",
			Help:      "Deliveries finished, by path and outcome",
		}, []string{"path", "outcome"}),
		snoozes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "snoozes_total",
			Help:      "Snoozed deliveries scheduled",
		}),
		imported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "imported_total",
			Help:      "Calendar instances imported as reminders",
		}),
		exported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "export_operations_total",
			Help:      "Calendar mirror writes, by operation",
		}, []string{"op"}),
		syncPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "sync_passes_total",
			Help:      "Calendar sync passes, by trigger and result",
		}, []string{"trigger", "result"}),
		lastSync: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "last_successful_sync_timestamp_seconds",
			Help:      "Unix time of the last sync pass that finished without error",
		}),
	}
}

func (r *Recorder) DeliveryStarted(path string) {
	r.deliveriesStarted.WithLabelValues(path).Inc()
}

func (r *Recorder) DeliveryFinished(path, outcome string) {
	r.deliveriesFinished.WithLabelValues(path, outcome).Inc()
}

func (r *Recorder) SnoozeScheduled() {
	r.snoozes.Inc()
}

func (r *Recorder) CalendarImported(n int) {
	r.imported.Add(float64(n))
}

func (r *Recorder) CalendarExported(op string) {
	r.exported.WithLabelValues(op).Inc()
}

func (r *Recorder) SyncCompleted(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		r.lastSync.SetToCurrentTime()
	}
	r.syncPasses.WithLabelValues(trigger, result).Inc()
}

// Server serves /metrics for the given gatherer.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

func NewServer(addr string, gatherer prometheus.Gatherer, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.WithField("component", "metrics"),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("Metrics endpoint listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Metrics endpoint stopped")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
