package events

// Topic constants for domain events emitted by the register.
const (
	TopicTransactionOpened    = "transaction.opened"
	TopicTransactionSubmitted = "transaction.submitted"
	TopicTransactionCanceled  = "transaction.canceled"
	TopicTenderRecorded       = "tender.recorded"
	TopicScanRejected         = "scan.rejected"
	TopicSessionOpened        = "session.opened"
	TopicSessionClosed        = "session.closed"
)

// DefaultTopics returns the canonical list of topics subscribers may observe.
func DefaultTopics() []string {
	return []string{
		TopicTransactionOpened,
		TopicTransactionSubmitted,
		TopicTransactionCanceled,
		TopicTenderRecorded,
		TopicScanRejected,
		TopicSessionOpened,
		TopicSessionClosed,
	}
}
