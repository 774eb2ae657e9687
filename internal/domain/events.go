package domain

import "time"

// EventType classifies the events published on the signal bus for the UI
// layer and the notifier.
type EventType string

const (
	EventStatusChanged        EventType = "trade_status_changed"
	EventChatMessage          EventType = "trade_chat_message"
	EventOperationSubmitted   EventType = "operation_submitted"
	EventOperationConfirmed   EventType = "operation_confirmed"
	EventReconciliationFailed EventType = "reconciliation_failed"
)

// Event is the envelope published on the signal bus. Fields are populated
// according to Type; unused fields are zero.
type Event struct {
	Type    EventType   `json:"type"`
	TradeID string      `json:"trade_id,omitempty"`
	From    TradeStatus `json:"from,omitempty"`
	To      TradeStatus `json:"to,omitempty"`
	TxHash  string      `json:"tx_hash,omitempty"`
	Message string      `json:"message,omitempty"`
	At      time.Time   `json:"at"`
}

// StatusEventChannel is the signal-bus channel carrying trade lifecycle
// events; OperationEventChannel carries sequencer progress events.
const (
	StatusEventChannel    = "ch:trade"
	OperationEventChannel = "ch:operation"
)
