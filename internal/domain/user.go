package domain

import "time"

// User is a chat contact known to the bot. Users are created on their first
// inbound message and never deleted by the bot itself.
type User struct {
	ID        int64
	Phone     string // identity key: phone number or transport-native sender id
	Name      string
	Language  string // "en" | "hi"
	TZ        string // IANA location
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location returns the user's time zone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u == nil || u.TZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Todo is a single entry of a user's todo list.
type Todo struct {
	ID          int64
	UserID      int64
	Task        string
	Completed   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}
