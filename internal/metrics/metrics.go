package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertdesk/internal/model"
)

// Metrics holds the process collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived *prometheus.CounterVec
	framesInvalid  *prometheus.CounterVec
	framesReplayed *prometheus.CounterVec
	alertsEnqueued *prometheus.CounterVec
	alertsAcked    prometheus.Counter
	audioBlocked   prometheus.Counter
	requestsShared prometheus.Counter
	requestsFailed *prometheus.CounterVec
	reconnects     prometheus.Counter
	connState      *prometheus.GaugeVec
	queueLength    prometheus.Gauge
	unreadCount    prometheus.Gauge
	sideChannel    *prometheus.CounterVec
}

var connStates = []model.ConnState{
	model.StateDisconnected,
	model.StateConnecting,
	model.StateConnected,
	model.StateReconnecting,
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertdesk_stream_frames_received_total",
			Help: "Stream frames received, by event",
		}, []string{"event"}),
		framesInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertdesk_stream_frames_invalid_total",
			Help: "Stream frames dropped as malformed, by event",
		}, []string{"event"}),
		framesReplayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertdesk_stream_frames_replayed_total",
			Help: "Byte-identical stream frames dropped inside the dedupe window, by event",
		}, []string{"event"}),
		alertsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertdesk_alerts_enqueued_total",
			Help: "Emergency alerts offered to the sequencer, by outcome",
		}, []string{"outcome"}),
		alertsAcked: f.NewCounter(prometheus.CounterOpts{
			Name: "alertdesk_alerts_acknowledged_total",
			Help: "Emergency alerts acknowledged",
		}),
		audioBlocked: f.NewCounter(prometheus.CounterOpts{
			Name: "alertdesk_audio_blocked_total",
			Help: "Audio starts refused until a user gesture",
		}),
		requestsShared: f.NewCounter(prometheus.CounterOpts{
			Name: "alertdesk_requests_deduplicated_total",
			Help: "Outbound requests that joined an identical in-flight call",
		}),
		requestsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertdesk_requests_failed_total",
			Help: "Outbound requests that failed, by operation",
		}, []string{"op"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "alertdesk_stream_reconnect_attempts_total",
			Help: "Reconnection attempts made by the connection manager",
		}),
		connState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alertdesk_stream_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "alertdesk_alert_queue_length",
			Help: "Emergency alerts waiting behind the active one",
		}),
		unreadCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "alertdesk_notifications_unread",
			Help: "Unread notifications in the aggregated view",
		}),
		sideChannel: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertdesk_side_channel_notifications_total",
			Help: "Notifications accepted from side channels, by channel",
		}, []string{"channel"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameReceived(event string) {
	if m != nil {
		m.framesReceived.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) FrameInvalid(event string) {
	if m != nil {
		m.framesInvalid.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) FrameReplayed(event string) {
	if m != nil {
		m.framesReplayed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) AlertEnqueued(outcome string) {
	if m != nil {
		m.alertsEnqueued.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AlertAcknowledged() {
	if m != nil {
		m.alertsAcked.Inc()
	}
}

func (m *Metrics) AudioBlocked() {
	if m != nil {
		m.audioBlocked.Inc()
	}
}

func (m *Metrics) RequestShared() {
	if m != nil {
		m.requestsShared.Inc()
	}
}

func (m *Metrics) RequestFailed(op string) {
	if m != nil {
		m.requestsFailed.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) SetConnState(state model.ConnState) {
	if m == nil {
		return
	}
	for _, s := range connStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) SetQueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}

func (m *Metrics) SetUnread(n int) {
	if m != nil {
		m.unreadCount.Set(float64(n))
	}
}

func (m *Metrics) SideChannelAccepted(channel string, n int) {
	if m != nil {
		m.sideChannel.WithLabelValues(channel).Add(float64(n))
	}
}
