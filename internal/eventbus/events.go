package eventbus

// Event types published by shopwatch components.
const (
	CatalogChanged     = "catalog.changed"
	CatalogUnchanged   = "catalog.unchanged"
	CatalogFetchFailed = "catalog.fetch_failed"
	CatalogSkipped     = "catalog.skipped"

	DispatchCompleted = "dispatch.completed"

	SubscriberAdded   = "subscriber.added"
	SubscriberRemoved = "subscriber.removed"
)

// SubscriberEvent is the payload of subscriber.* events.
type SubscriberEvent struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}
