package domain

import "time"

// Session is a scheduled occurrence with a fixed number of seats.
// CurrentCapacity counts active reservations and is only changed by the capacity ledger.
type Session struct {
	ID              string    `json:"id"`
	ProgramID       string    `json:"program_id"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MaxCapacity     int       `json:"max_capacity"`
	CurrentCapacity int       `json:"current_capacity"`
	IsCancelled     bool      `json:"is_cancelled"`
	PriceAmount     int64     `json:"price_amount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available returns the number of seats that can still be reserved
func (s *Session) Available() int {
	if s.IsCancelled || s.CurrentCapacity >= s.MaxCapacity {
		return 0
	}
	return s.MaxCapacity - s.CurrentCapacity
}

// HasStartedAt checks if the session has started at t
func (s *Session) HasStartedAt(t time.Time) bool {
	return !s.StartsAt.IsZero() && !t.Before(s.StartsAt)
}

// Availability returns the read model for the session
func (s *Session) Availability() *Availability {
	return &Availability{
		SessionID:   s.ID,
		MaxCapacity: s.MaxCapacity,
		Reserved:    s.CurrentCapacity,
		Available:   s.Available(),
		IsCancelled: s.IsCancelled,
		StartsAt:    s.StartsAt,
		PriceAmount: s.PriceAmount,
		Currency:    s.Currency,
	}
}

// Availability is a point-in-time view of a session's seats. It may be stale.
type Availability struct {
	SessionID   string    `json:"session_id"`
	MaxCapacity int       `json:"max_capacity"`
	Reserved    int       `json:"reserved"`
	Available   int       `json:"available"`
	IsCancelled bool      `json:"is_cancelled"`
	StartsAt    time.Time `json:"starts_at"`
	PriceAmount int64     `json:"price_amount"`
	Currency    string    `json:"currency"`
}
