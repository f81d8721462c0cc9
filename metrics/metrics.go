// Package metrics exposes Prometheus instrumentation for the session hub,
// following the namespace/subsystem/name convention and promauto wiring used
// in the example pack's video-conferencing session metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xiangqi",
		Subsystem: "hub",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xiangqi",
		Subsystem: "hub",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "xiangqi",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players currently seated in each room",
	}, []string{"room_id"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xiangqi",
		Subsystem: "hub",
		Name:      "commands_total",
		Help:      "Total inbound commands processed, by action and outcome",
	}, []string{"action", "outcome"})

	MovesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xiangqi",
		Subsystem: "rules",
		Name:      "moves_rejected_total",
		Help:      "Total moves rejected by the rules engine, by reason",
	}, []string{"reason"})

	RateLimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xiangqi",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope"})
)

func IncConnection() { ActiveConnections.Inc() }
func DecConnection() { ActiveConnections.Dec() }
