package model

import "time"

// InboundMessage is a raw email row from inbound_emails. The id doubles as
// the idempotency key for event creation downstream.
type InboundMessage struct {
	ID          string
	UserID      string
	Subject     string
	RawBody     string
	FromEmail   string
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
}
