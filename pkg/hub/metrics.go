package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commhub_sessions_active",
		Help: "Authenticated websocket sessions currently connected.",
	})
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commhub_pushes_total",
		Help: "Frames queued for push delivery, by event.",
	}, []string{"event"})
)
