// Package telemetry holds the prometheus collectors for the chat core.
// Everything is registered on the default registry and served by the
// promhttp handler the app mounts at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsnap_messages_sent_total",
		Help: "Messages accepted by the message log, by type.",
	}, []string{"type"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsnap_status_transitions_total",
		Help: "Applied message status transitions, by target status.",
	}, []string{"to"})

	StatusNoops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsnap_status_noops_total",
		Help: "Status updates ignored because the transition is not allowed.",
	})

	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsnap_messages_deleted_total",
		Help: "Messages soft-deleted by their sender.",
	})

	UnreadLostUpdateSuspects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsnap_unread_lost_update_suspects_total",
		Help: "Unread-counter read-modify-writes that look like they lost an update.",
	})

	TypingExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsnap_typing_expiries_total",
		Help: "Typing nodes removed by timer expiry rather than an explicit stop.",
	})

	TypingSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsnap_typing_swept_total",
		Help: "Stale typing nodes removed by the background sweeper.",
	})

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsnap_subscriptions_active",
		Help: "Currently attached chat subscriptions.",
	})

	ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsnap_conversations_created_total",
		Help: "Conversations created by createOrGet.",
	})

	SyncClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsnap_sync_clients",
		Help: "Connected websocket sync clients.",
	})
)
