package shared

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventTag names a ledger domain event.
type EventTag string

const (
	EventEntryPosted             EventTag = "ledger.entry.posted"
	EventEntryCancelled          EventTag = "ledger.entry.cancelled"
	EventDraftDiscarded          EventTag = "ledger.entry.discarded"
	EventAccountCreated          EventTag = "ledger.account.created"
	EventPeriodCreated           EventTag = "ledger.period.created"
	EventPeriodSoftClosed        EventTag = "ledger.period.soft_closed"
	EventPeriodClosed            EventTag = "ledger.period.closed"
	EventIntegrityFault          EventTag = "ledger.integrity.fault"
	EventIntegrityCleared        EventTag = "ledger.integrity.cleared"
	EventBankTransactionIngested EventTag = "ledger.bank_transaction.ingested"
	EventReconciliationProposed  EventTag = "ledger.reconciliation.proposed"
	EventReconciliationConfirmed EventTag = "ledger.reconciliation.confirmed"
	EventBudgetExceeded          EventTag = "ledger.budget.threshold_exceeded"
)

// Event is a state transition notice: tag, entity id and timestamp.
type Event struct {
	ID       uuid.UUID         `json:"id"`
	Tag      EventTag          `json:"tag"`
	EntityID string            `json:"entity_id"`
	At       time.Time         `json:"at"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// NewEvent builds an event value with a fresh id.
func NewEvent(tag EventTag, entityID string, at time.Time) Event {
	return Event{ID: uuid.New(), Tag: tag, EntityID: entityID, At: at.UTC()}
}

// With returns a copy of the event carrying the extra attribute.
func (e Event) With(key, value string) Event {
	attrs := make(map[string]string, len(e.Attrs)+1)
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attrs = attrs
	return e
}

// Emitter accepts events produced by ledger components.
type Emitter interface {
	Emit(evt Event)
}

// Outbox buffers emitted events until a relay drains them.
type Outbox struct {
	mu     sync.Mutex
	events []Event
	ready  chan struct{}
}

// NewOutbox constructs an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Emit appends evt and wakes a waiting relay.
func (o *Outbox) Emit(evt Event) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.events = append(o.events, evt)
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns all buffered events in emission order.
func (o *Outbox) Drain() []Event {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.events
	o.events = nil
	return out
}

// Requeue puts undelivered events back at the head of the buffer.
func (o *Outbox) Requeue(events []Event) {
	if o == nil || len(events) == 0 {
		return
	}
	o.mu.Lock()
	o.events = append(append([]Event(nil), events...), o.events...)
	o.mu.Unlock()
}

// Ready signals that events may be waiting.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Len reports the number of buffered events.
func (o *Outbox) Len() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}
