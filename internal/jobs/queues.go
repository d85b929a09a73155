// ABOUTME: Well-known queue names registered by the gateway at startup
// ABOUTME: Shared by the dispatcher (producers) and channel handlers (consumers)

package jobs

// Queue names. Every one of these is registered at startup; config overrides
// tune workers, backlog bounds and retry policy per queue.
const (
	QueueMessages      = "message-processing"
	QueueWhatsApp      = "whatsapp-sending"
	QueueTelegram      = "telegram-sending"
	QueueEmail         = "email-sending"
	QueueWebhooks      = "webhook-processing"
	QueueDocuments     = "document-processing"
	QueueAnalytics     = "analytics"
	QueueNotifications = "notifications"
)

// KnownQueues lists every queue the gateway registers.
func KnownQueues() []string {
	return []string{
		QueueMessages,
		QueueWhatsApp,
		QueueTelegram,
		QueueEmail,
		QueueWebhooks,
		QueueDocuments,
		QueueAnalytics,
		QueueNotifications,
	}
}
