package domain

import "time"

// MessageKind identifies the payload variant of an outbound message.
type MessageKind string

const (
	MessageKindDisplay MessageKind = "display"
	MessageKindNotify  MessageKind = "notify"
	MessageKindSwitch  MessageKind = "switch"
	MessageKindSync    MessageKind = "sync"
)

// OutboundMessage is the audit record of one successful publish.
type OutboundMessage struct {
	ID      int64
	OwnerID string
	Topic   string
	Kind    MessageKind
	Payload []byte
	SentAt  time.Time
}

// NewOutboundMessage creates a record stamped with the current time.
func NewOutboundMessage(ownerID, topic string, kind MessageKind, payload []byte) *OutboundMessage {
	return &OutboundMessage{
		OwnerID: ownerID,
		Topic:   topic,
		Kind:    kind,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}
}
