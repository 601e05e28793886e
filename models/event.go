package models

// EventType enumerates the simulation events.
type EventType string

const (
	TxReceived       EventType = "TX_RECEIVED"
	TxSent           EventType = "TX_SENT"
	TxCreated        EventType = "TX_CREATED"
	ModelSelected    EventType = "MODEL_SELECTED"
	ModelUploaded    EventType = "MODEL_UPLOADED"
	CompareSatisfied EventType = "COMPARE_SATISFIED"
	InitLocalTrain   EventType = "INIT_LOCAL_TRAIN"
)

// Event is one record of the event log. Meta is a flat key/value mapping.
type Event struct {
	Type EventType              `json:"type"`
	Meta map[string]interface{} `json:"meta"`
}

func NewEvent(t EventType, meta map[string]interface{}) Event {
	return Event{Type: t, Meta: meta}
}
