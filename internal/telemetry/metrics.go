package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbattle",
		Name:      "rooms_created_total",
		Help:      "Rooms created, by mode.",
	}, []string{"mode"})

	BattlesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbattle",
		Name:      "battles_started_total",
		Help:      "Battles started, by mode.",
	}, []string{"mode"})

	AnswersGraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qbattle",
		Name:      "answers_graded_total",
		Help:      "Answers graded, by mode and verdict.",
	}, []string{"mode", "correct"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qbattle",
		Name:      "ws_connected_clients",
		Help:      "Currently connected websocket clients.",
	})
)
