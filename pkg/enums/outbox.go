package enums

// OutboxAggregateType names the entity an outbox event is about. Events of one
// aggregate share an ordering key.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateCardToken    OutboxAggregateType = "card_token"
	AggregateLedgerEvent  OutboxAggregateType = "ledger_event"
	AggregateNotification OutboxAggregateType = "notification"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateCardToken, AggregateLedgerEvent, AggregateNotification}

func (a OutboxAggregateType) IsValid() bool { return oneOf(aggregateTypes, a) }

// OutboxEventType is the routing key the relay maps onto a topic.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventPaymentConfirmed      OutboxEventType = "payment_confirmed"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventOrderRefunded         OutboxEventType = "order_refunded"
	EventInventoryAdjustment   OutboxEventType = "inventory_adjustment_requested"
	EventNotificationRequested OutboxEventType = "notification_requested"
	EventCardSaved             OutboxEventType = "card_saved"
	EventCardDeleted           OutboxEventType = "card_deleted"
)

var outboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventPaymentConfirmed,
	EventPaymentFailed,
	EventOrderRefunded,
	EventInventoryAdjustment,
	EventNotificationRequested,
	EventCardSaved,
	EventCardDeleted,
}

func (e OutboxEventType) IsValid() bool { return oneOf(outboxEventTypes, e) }
