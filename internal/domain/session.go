package domain

import "time"

// SessionState is the lifecycle state of the single transport session.
type SessionState string

const (
	StateDisconnected   SessionState = "disconnected"
	StateConnecting     SessionState = "connecting"
	StateAwaitingScan   SessionState = "awaiting_scan"
	StateAuthenticating SessionState = "authenticating"
	StateReady          SessionState = "ready"
	StateReconnecting   SessionState = "reconnecting"
)

// QRToken is a pairing challenge issued by the transport while awaiting a scan.
type QRToken struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}
