package amqp

import (
	"encoding/json"
	"time"
)

// MirrorMessage announces a committed ledger change. It carries only ids; the
// worker reloads the outbox entry and the transaction from the database.
type MirrorMessage struct {
	OutboxID      int64     `json:"outbox_id"`
	TransactionID string    `json:"transaction_id"`
	Action        string    `json:"action"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewMirrorMessage(outboxID int64, transactionID, action string) *MirrorMessage {
	return &MirrorMessage{
		OutboxID:      outboxID,
		TransactionID: transactionID,
		Action:        action,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *MirrorMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MirrorMessageFromJSON creates a message from JSON bytes
func MirrorMessageFromJSON(data []byte) (*MirrorMessage, error) {
	var msg MirrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
