package market

const (
	TopicLeadPosted        = "lead.posted"
	TopicLeadDispatch      = "lead.dispatch"
	TopicLeadAccepted      = "lead.accepted"
	TopicLeadExpired       = "lead.expired"
	TopicPaymentVerified   = "payment.verified"
	TopicPaymentFailed     = "payment.failed"
	TopicPaymentReconcile  = "payment.reconcile"
	TopicPositionCommitted = "position.committed"
)

// Partition key = correlation id (lead_id / order_id) so all events for
// one aggregate keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
