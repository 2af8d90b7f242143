package metrics

import (
	"database/sql"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "hemlarm_"

	resultSuccess = "success"
	resultError   = "error"
)

// State exposes in-memory sizes for gauge collection.
type State interface {
	DeviceCount() int
	LogCount() int
}

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	motionEventsTotal   *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	sinkWritesTotal     *prometheus.CounterVec
	livenessTransitions prometheus.Counter
	exportTotal         *prometheus.CounterVec
)

// Init registers relay metrics. state and db are optional gauge sources.
func Init(state State, db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by operation and result",
			},
			[]string{"op", "result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "result"},
		)
		motionEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "motion_events_total",
				Help: "Total motion events by alarm flag",
			},
			[]string{"alarm_active"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification deliveries by channel and status",
			},
			[]string{"channel", "status"},
		)
		sinkWritesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_writes_total",
				Help: "Total durable sink writes by operation and result",
			},
			[]string{"op", "result"},
		)
		livenessTransitions = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "liveness_disconnects_total",
				Help: "Total devices demoted to disconnected by the liveness monitor",
			},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "log_export_total",
				Help: "Total log exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			motionEventsTotal,
			notificationsTotal,
			sinkWritesTotal,
			livenessTransitions,
			exportTotal,
		)

		if state != nil {
			registerStateMetrics(state)
		}
		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(op, result string, duration time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(op, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(op, result).Observe(duration.Seconds())
	}
}

// IncMotionEvent increments the motion counter.
func IncMotionEvent(alarmActive bool) {
	if motionEventsTotal != nil {
		motionEventsTotal.WithLabelValues(strconv.FormatBool(alarmActive)).Inc()
	}
}

// IncNotification increments the delivery counter.
func IncNotification(channel, status string) {
	if channel == "" {
		channel = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(channel, status).Inc()
	}
}

// IncSinkWrite increments the durable sink counter.
func IncSinkWrite(op, result string) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if sinkWritesTotal != nil {
		sinkWritesTotal.WithLabelValues(op, result).Inc()
	}
}

// AddLivenessDisconnects adds count demotions.
func AddLivenessDisconnects(count int) {
	if count <= 0 {
		return
	}
	if livenessTransitions != nil {
		livenessTransitions.Add(float64(count))
	}
}

// IncExport increments the export counter.
func IncExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

func registerStateMetrics(state State) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "devices",
			Help: "Devices currently held in the registry",
		},
		func() float64 { return float64(state.DeviceCount()) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "log_entries",
			Help: "Motion entries currently held in the recent window",
		},
		func() float64 { return float64(state.LogCount()) },
	))
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
