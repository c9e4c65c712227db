package store

// Delivery states. A delivery moves from pending to delivered, or through
// retry to failed once the worker gives up; failed deliveries also land in
// the dead-letter queue until requeued.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// WebhookDelivery is one queued POST of a run event, such as run.completed
// for a finished budget sweep, to a tenant's subscriber URL.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string // HMAC key for the X-Signature header
	Payload        []byte // run summary JSON, sent verbatim
	Status         string
	Attempts       int
}

// Due reports whether the worker may still attempt the delivery.
func (d WebhookDelivery) Due() bool {
	return d.Status == DeliveryPending || d.Status == DeliveryRetry
}
