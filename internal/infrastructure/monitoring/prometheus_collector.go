package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	sessionsActive     prometheus.Gauge
	videoTilesAttached prometheus.Gauge
	controlConnections prometheus.Gauge

	// Frame path
	framesProcessed *prometheus.CounterVec
	framesSkipped   *prometheus.CounterVec
	frameDuration   *prometheus.HistogramVec

	// Control path
	overlayUpdates         *prometheus.CounterVec
	controlMessagesIgnored *prometheus.CounterVec
	controlMessagesDropped prometheus.Counter
	overlaysGenerated      *prometheus.CounterVec
	overlayCacheLookups    *prometheus.CounterVec
	overlayPushDuration    prometheus.Histogram
}

// NewPrometheusCollector registers the collector's metrics with reg, or with
// the default registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "overlaycast_sessions_active",
			Help: "Number of joined sessions",
		}),

		videoTilesAttached: factory.NewGauge(prometheus.GaugeOpts{
			Name: "overlaycast_video_tiles_attached",
			Help: "Number of attached participant video tiles",
		}),

		controlConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "overlaycast_control_connections",
			Help: "Number of open remote control connections",
		}),

		framesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_frames_processed_total",
			Help: "Frames composited by a processor",
		}, []string{"processor"}),

		framesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_frames_skipped_total",
			Help: "Frames passed through undrawn because the processor had no surface",
		}, []string{"processor"}),

		frameDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overlaycast_frame_process_duration_seconds",
			Help:    "Time spent compositing one frame",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05},
		}, []string{"processor"}),

		overlayUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_overlay_updates_total",
			Help: "Overlay replacements applied by a processor",
		}, []string{"processor"}),

		controlMessagesIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_control_messages_ignored_total",
			Help: "Control messages with an unknown command",
		}, []string{"cmd"}),

		controlMessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "overlaycast_control_messages_dropped_total",
			Help: "Control messages that could not be delivered",
		}),

		overlaysGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_overlays_generated_total",
			Help: "Overlay assets rendered",
		}, []string{"kind", "result"}),

		overlayCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "overlaycast_overlay_cache_lookups_total",
			Help: "Rendered overlay cache lookups",
		}, []string{"kind", "result"}),

		overlayPushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "overlaycast_overlay_push_duration_seconds",
			Help:    "Time from overlay request to control channel hand-off",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (p *PrometheusCollector) RecordSessionJoined() {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) RecordSessionLeft() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) RecordVideoAttached() {
	p.videoTilesAttached.Inc()
}

func (p *PrometheusCollector) RecordVideoDetached() {
	p.videoTilesAttached.Dec()
}

func (p *PrometheusCollector) RecordControlConnected() {
	p.controlConnections.Inc()
}

func (p *PrometheusCollector) RecordControlDisconnected() {
	p.controlConnections.Dec()
}

func (p *PrometheusCollector) RecordFrameProcessed(processor string, duration time.Duration) {
	p.framesProcessed.WithLabelValues(processor).Inc()
	p.frameDuration.WithLabelValues(processor).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordFrameSkipped(processor string) {
	p.framesSkipped.WithLabelValues(processor).Inc()
}

func (p *PrometheusCollector) RecordOverlayUpdate(processor string) {
	p.overlayUpdates.WithLabelValues(processor).Inc()
}

func (p *PrometheusCollector) RecordControlMessageIgnored(cmd string) {
	p.controlMessagesIgnored.WithLabelValues(cmd).Inc()
}

func (p *PrometheusCollector) RecordControlMessageDropped() {
	p.controlMessagesDropped.Inc()
}

func (p *PrometheusCollector) RecordOverlayGenerated(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.overlaysGenerated.WithLabelValues(kind, result).Inc()
}

func (p *PrometheusCollector) RecordOverlayCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.overlayCacheLookups.WithLabelValues(kind, result).Inc()
}

func (p *PrometheusCollector) RecordOverlayPush(duration time.Duration) {
	p.overlayPushDuration.Observe(duration.Seconds())
}

// RemoveProcessor drops per-processor series once a processor is detached.
func (p *PrometheusCollector) RemoveProcessor(processor string) {
	p.framesProcessed.DeleteLabelValues(processor)
	p.framesSkipped.DeleteLabelValues(processor)
	p.frameDuration.DeleteLabelValues(processor)
	p.overlayUpdates.DeleteLabelValues(processor)
}
