package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth event collectors. Create one per process and hand
// it to the session service and the realtime hub.
type Metrics struct {
	registry *prometheus.Registry

	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	replays   prometheus.Counter
	wsClients prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_logins_total",
			Help: "Login attempts by result (success, failure, error).",
		}, []string{"result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_refreshes_total",
			Help: "Refresh attempts by result (success, failure, error).",
		}, []string{"result"}),
		replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "authd_replay_detected_total",
			Help: "Refresh token replays that triggered lineage revocation.",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authd_ws_clients",
			Help: "Currently connected realtime clients.",
		}),
	}
}

func (m *Metrics) LoginObserved(result string)   { m.logins.WithLabelValues(result).Inc() }
func (m *Metrics) RefreshObserved(result string) { m.refreshes.WithLabelValues(result).Inc() }
func (m *Metrics) ReplayDetected()               { m.replays.Inc() }

func (m *Metrics) WSClientConnected()    { m.wsClients.Inc() }
func (m *Metrics) WSClientDisconnected() { m.wsClients.Dec() }

// Handler exposes the registry in prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
