// Package obs holds the Prometheus collectors shared by the ban and
// exclusion paths. A nil *Metrics is valid and records nothing.
package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	BansTotal     *prometheus.CounterVec // result=accepted|timeout|<error kind>
	ResolvedTotal prometheus.Counter
	LobbiesOpen   prometheus.Gauge

	BlocksTotal  prometheus.Counter
	ExpiredTotal prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg. Passing nil
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapban_bans_total",
				Help: "Ban submissions by result",
			},
			[]string{"result"},
		),
		ResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapban_sessions_resolved_total",
			Help: "Sessions that reached a selected map",
		}),
		LobbiesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mapban_lobbies_open",
			Help: "Lobbies currently registered with the hub",
		}),
		BlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exclusion_blocks_total",
			Help: "Exclusion records written",
		}),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exclusion_expired_total",
			Help: "Expired exclusion records removed, lazily or by sweep",
		}),
	}

	reg.MustRegister(
		m.BansTotal,
		m.ResolvedTotal,
		m.LobbiesOpen,
		m.BlocksTotal,
		m.ExpiredTotal,
	)
	return m
}

func (m *Metrics) Ban(result string) {
	if m == nil {
		return
	}
	m.BansTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Resolved() {
	if m == nil {
		return
	}
	m.ResolvedTotal.Inc()
}

func (m *Metrics) LobbyOpened() {
	if m == nil {
		return
	}
	m.LobbiesOpen.Inc()
}

func (m *Metrics) LobbyClosed() {
	if m == nil {
		return
	}
	m.LobbiesOpen.Dec()
}

func (m *Metrics) Blocked() {
	if m == nil {
		return
	}
	m.BlocksTotal.Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredTotal.Add(float64(n))
}
