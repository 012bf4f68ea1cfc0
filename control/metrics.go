// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collector for connection lifecycle and frame traffic.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
)

var _ protocol.Observer = (*Collector)(nil)

// Collector records connection metrics. It implements protocol.Observer, so
// it can be set as Config.Observer on any number of connections.
type Collector struct {
	opened     *prometheus.CounterVec
	active     *prometheus.GaugeVec
	closed     *prometheus.CounterVec
	framesIn   *prometheus.CounterVec
	framesOut  *prometheus.CounterVec
	payloadIn  prometheus.Counter
	payloadOut prometheus.Counter
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsengine_connections_opened_total",
			Help: "Connections that completed the opening handshake",
		}, []string{"role"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsengine_connections_active",
			Help: "Connections currently open or closing",
		}, []string{"role"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsengine_connections_closed_total",
			Help: "Opened connections that reached CLOSED, by close code",
		}, []string{"role", "code"}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsengine_frames_received_total",
			Help: "Frames decoded from peers",
		}, []string{"opcode"}),
		framesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsengine_frames_sent_total",
			Help: "Frames written to peers",
		}, []string{"opcode"}),
		payloadIn: f.NewCounter(prometheus.CounterOpts{
			Name: "wsengine_payload_bytes_received_total",
			Help: "Payload bytes of received frames",
		}),
		payloadOut: f.NewCounter(prometheus.CounterOpts{
			Name: "wsengine_payload_bytes_sent_total",
			Help: "Payload bytes of sent frames",
		}),
	}
}

// ConnectionOpened implements protocol.Observer.
func (c *Collector) ConnectionOpened(role api.Role) {
	c.opened.WithLabelValues(role.String()).Inc()
	c.active.WithLabelValues(role.String()).Inc()
}

// ConnectionClosed implements protocol.Observer.
func (c *Collector) ConnectionClosed(role api.Role, ev protocol.CloseEvent) {
	c.active.WithLabelValues(role.String()).Dec()
	c.closed.WithLabelValues(role.String(), strconv.Itoa(int(ev.Code))).Inc()
}

// FrameReceived implements protocol.Observer.
func (c *Collector) FrameReceived(op protocol.Opcode, n int) {
	c.framesIn.WithLabelValues(op.String()).Inc()
	c.payloadIn.Add(float64(n))
}

// FrameSent implements protocol.Observer.
func (c *Collector) FrameSent(op protocol.Opcode, n int) {
	c.framesOut.WithLabelValues(op.String()).Inc()
	c.payloadOut.Add(float64(n))
}

// MetricsHandler serves g in the Prometheus exposition format.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
