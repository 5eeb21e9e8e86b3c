package dynamo

// DynamoDB attribute names used in expressions across the item repo.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldItemID      = "item_id"
	fieldState       = "state"
	fieldSubject     = "subject"
	fieldReference   = "reference"
	fieldOrigin      = "origin"
	fieldDeliverTo   = "deliver_to"
	fieldDeliveredAt = "delivered_at"
	fieldDisposition = "disposition"
	fieldAttachment  = "attachment"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"

	fieldCounterName = "name"
	fieldCounterSeq  = "seq"

	stateCreatedIndex = "state-created_at-index"
)
