package domain

import "time"

// Reminder is a one-shot message delivered to its owner at DueAt.
// Sent is true while a delivery is claimed and after delivery or cancel;
// DeliveredAt or CanceledAt tell the final outcome.
type Reminder struct {
	ID          int64
	UserID      int64
	Recipient   string // owner's phone, joined from users
	Message     string
	DueAt       time.Time // UTC
	Sent        bool
	CreatedAt   time.Time  // UTC
	SentAt      *time.Time // UTC, nullable; set when claimed for delivery
	CanceledAt  *time.Time // UTC, nullable
	DeliveredAt *time.Time // UTC, nullable
}

// Canceled reports whether the reminder was voided before delivery.
func (r *Reminder) Canceled() bool { return r.CanceledAt != nil }

// HistoryEntry is one row of the chat log. Command rows are written with a
// nil Response on receipt and completed once the handler returns.
type HistoryEntry struct {
	ID        int64
	UserID    int64
	Message   string
	Response  *string
	Command   string
	CreatedAt time.Time
}

// InboundMessage is a text message received from the transport.
type InboundMessage struct {
	Chat       string // reply address
	Sender     string // sender phone / id
	PushName   string
	Text       string
	ReceivedAt time.Time
}
