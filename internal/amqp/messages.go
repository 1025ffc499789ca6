package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"tally/internal/changefeed"
)

// ChangeMessage announces that one collection of an owner changed. It carries no
// data; receivers reload the collection from the store.
type ChangeMessage struct {
	Owner      string    `json:"owner"`
	Collection string    `json:"collection"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeMessage creates a message for c stamped with the current time.
func NewChangeMessage(c changefeed.Change) *ChangeMessage {
	return &ChangeMessage{
		Owner:      c.Owner,
		Collection: string(c.Collection),
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Change converts the message back to a changefeed change.
func (m *ChangeMessage) Change() changefeed.Change {
	return changefeed.Change{Owner: m.Owner, Collection: changefeed.Collection(m.Collection)}
}

// ChangeMessageFromJSON parses and validates a message.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Owner == "" {
		return nil, fmt.Errorf("change message without owner")
	}
	switch changefeed.Collection(msg.Collection) {
	case changefeed.Expenses, changefeed.Categories:
	default:
		return nil, fmt.Errorf("unknown collection %q", msg.Collection)
	}
	return &msg, nil
}
