package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsState holds one Setup call's Prometheus registry and instruments.
// A fresh registry per Setup avoids "duplicate metrics collector
// registration" panics across repeated Setup/Shutdown cycles.
type metricsState struct {
	registry *prometheus.Registry

	groupsReceived *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	catchup        *prometheus.CounterVec
	subscribers    *prometheus.GaugeVec
	broadcastSecs  *prometheus.HistogramVec
	broadcastSent  *prometheus.CounterVec
	broadcastKept  *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	activeTracks   prometheus.Gauge
}

func newMetricsState() (*metricsState, error) {
	reg := prometheus.NewRegistry()
	ms := &metricsState{
		registry: reg,
		groupsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moq_groups_received_total",
			Help: "Groups received per track.",
		}, []string{"track"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moq_cache_hits_total",
			Help: "Cache hits serving a track from an existing group buffer.",
		}, []string{"track"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moq_cache_misses_total",
			Help: "Cache misses requiring a fresh upstream subscription.",
		}, []string{"track"}),
		catchup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moq_catchup_groups_total",
			Help: "Groups a new subscriber skipped to join the live edge.",
		}, []string{"track"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moq_subscribers",
			Help: "Current subscriber count per track.",
		}, []string{"track"}),
		broadcastSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moq_broadcast_latency_seconds",
			Help:    "Time to fan a group out to its subscribers.",
			Buckets: prometheus.DefBuckets,
		}, []string{"track"}),
		broadcastSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moq_broadcast_frames_total",
			Help: "Frames offered to a group's subscribers.",
		}, []string{"track"}),
		broadcastKept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moq_broadcast_frames_delivered_total",
			Help: "Frames actually delivered to a group's subscribers.",
		}, []string{"track"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moq_stage_latency_seconds",
			Help:    "Per-stage latency observations (receive, write, etc).",
			Buckets: prometheus.DefBuckets,
		}, []string{"track", "stage"}),
		activeTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moq_active_tracks",
			Help: "Tracks currently open across the process.",
		}),
	}

	collectors := []prometheus.Collector{
		ms.groupsReceived, ms.cacheHits, ms.cacheMisses, ms.catchup,
		ms.subscribers, ms.broadcastSecs, ms.broadcastSent, ms.broadcastKept,
		ms.latency, ms.activeTracks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// Handler exposes the active Prometheus registry for a /metrics endpoint.
// Returns nil when metrics are disabled.
func Handler() prometheus.Gatherer {
	mu.RLock()
	defer mu.RUnlock()
	if current.metrics == nil {
		return nil
	}
	return current.metrics.registry
}

// Recorder emits per-track metrics. Its methods are always safe to call;
// they are no-ops when metrics are disabled.
type Recorder struct {
	track string
}

// NewRecorder returns a Recorder scoped to one track name.
func NewRecorder(track string) *Recorder {
	return &Recorder{track: track}
}

func (r *Recorder) ms() *metricsState {
	mu.RLock()
	defer mu.RUnlock()
	return current.metrics
}

// GroupReceived records one group arriving for this track.
func (r *Recorder) GroupReceived() {
	if ms := r.ms(); ms != nil {
		ms.groupsReceived.WithLabelValues(r.track).Inc()
	}
}

// CacheHit records a subscribe served from an existing cached group.
func (r *Recorder) CacheHit() {
	if ms := r.ms(); ms != nil {
		ms.cacheHits.WithLabelValues(r.track).Inc()
	}
}

// CacheMiss records a subscribe that required a fresh upstream fetch.
func (r *Recorder) CacheMiss() {
	if ms := r.ms(); ms != nil {
		ms.cacheMisses.WithLabelValues(r.track).Inc()
	}
}

// Catchup records how many groups a new subscriber skipped to reach the
// live edge (spec §4.4's jump-to-latest join behavior).
func (r *Recorder) Catchup(groups int) {
	if ms := r.ms(); ms != nil {
		ms.catchup.WithLabelValues(r.track).Add(float64(groups))
	}
}

// IncSubscribers/DecSubscribers/SetSubscribers track this track's current
// subscriber count.
func (r *Recorder) IncSubscribers() {
	if ms := r.ms(); ms != nil {
		ms.subscribers.WithLabelValues(r.track).Inc()
	}
}

func (r *Recorder) DecSubscribers() {
	if ms := r.ms(); ms != nil {
		ms.subscribers.WithLabelValues(r.track).Dec()
	}
}

func (r *Recorder) SetSubscribers(n int) {
	if ms := r.ms(); ms != nil {
		ms.subscribers.WithLabelValues(r.track).Set(float64(n))
	}
}

// Broadcast records one group fan-out: how long it took, how many frames
// were offered, and how many were actually delivered before any subscriber
// dropped or disconnected.
func (r *Recorder) Broadcast(latency time.Duration, framesSent, framesDelivered int) {
	if ms := r.ms(); ms != nil {
		ms.broadcastSecs.WithLabelValues(r.track).Observe(latency.Seconds())
		ms.broadcastSent.WithLabelValues(r.track).Add(float64(framesSent))
		ms.broadcastKept.WithLabelValues(r.track).Add(float64(framesDelivered))
	}
}

// LatencyObs returns an Observer for ad-hoc stage latency histograms (e.g.
// "receive", "write"), or nil when metrics are disabled.
func (r *Recorder) LatencyObs(stage string) prometheus.Observer {
	ms := r.ms()
	if ms == nil {
		return nil
	}
	return ms.latency.WithLabelValues(r.track, stage)
}

// IncTracks and DecTracks track the process-wide open-track count.
func IncTracks() {
	mu.RLock()
	defer mu.RUnlock()
	if current.metrics != nil {
		current.metrics.activeTracks.Inc()
	}
}

func DecTracks() {
	mu.RLock()
	defer mu.RUnlock()
	if current.metrics != nil {
		current.metrics.activeTracks.Dec()
	}
}
