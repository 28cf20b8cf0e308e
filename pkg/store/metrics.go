package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commhub_messages_appended_total",
		Help: "Messages durably appended across all threads.",
	})
	readReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commhub_read_receipts_total",
		Help: "Read receipts recorded on messages.",
	})
	notificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commhub_notifications_created_total",
		Help: "Notifications durably created.",
	})
	notificationsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commhub_notifications_purged_total",
		Help: "Expired notifications removed by the retention sweeper.",
	})
)
