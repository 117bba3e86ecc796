// Package metrics registers the platform's Prometheus collectors. Process-
// wide collectors are constructed at init and registered on the default
// registry; the gateway exposes them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerPostings counts committed postings by transaction type.
	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platform",
		Subsystem: "ledger",
		Name:      "postings_total",
		Help:      "Committed ledger postings by transaction type.",
	}, []string{"type"})

	// LedgerHolds counts hold lifecycle transitions.
	LedgerHolds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platform",
		Subsystem: "ledger",
		Name:      "holds_total",
		Help:      "Hold transitions: placed, captured, released, swept.",
	}, []string{"action"})

	// ReconcileDrift reports the absolute drift found by the last
	// reconciliation run, per currency.
	ReconcileDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "platform",
		Subsystem: "ledger",
		Name:      "reconcile_drift_minor_units",
		Help:      "Absolute balance drift found by reconciliation, per currency.",
	}, []string{"currency"})

	// SagaExecutions counts saga outcomes.
	SagaExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platform",
		Subsystem: "saga",
		Name:      "executions_total",
		Help:      "Saga executions by outcome.",
	}, []string{"outcome"})

	// BonusAwards counts bonus awards by template type.
	BonusAwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platform",
		Subsystem: "bonus",
		Name:      "awards_total",
		Help:      "Bonus awards by template type.",
	}, []string{"type"})

	// EventsEmitted counts domain events by type.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platform",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Domain events emitted by type.",
	}, []string{"type"})

	// WebhookDeliveries counts webhook delivery outcomes.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platform",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	// RealtimeConnections tracks live SSE and WebSocket connections.
	RealtimeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "platform",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Live realtime connections by transport.",
	}, []string{"transport"})
)
