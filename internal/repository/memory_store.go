package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
)

// MemoryStore implements the ledger, booking, payment and outbox stores in memory.
// A single mutex makes every operation, including the outbox write that
// accompanies a transition, atomic. Used for tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	bookings  map[string]*domain.Booking
	payments  map[string]*domain.PaymentRecord
	processed map[string]*domain.ProcessedEvent
	conflicts []*domain.PaymentConflict
	outbox    []*domain.OutboxMessage
	leases    map[string]time.Time
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*domain.Session),
		bookings:  make(map[string]*domain.Booking),
		payments:  make(map[string]*domain.PaymentRecord),
		processed: make(map[string]*domain.ProcessedEvent),
		leases:    make(map[string]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ CapacityLedger     = (*MemoryStore)(nil)
	_ BookingStore       = (*MemoryStore)(nil)
	_ PaymentRecordStore = (*MemoryStore)(nil)
	_ OutboxRepository   = (*MemoryStore)(nil)
)

// AddSession seeds a session
func (m *MemoryStore) AddSession(s *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
}

// CancelSession flags a session as cancelled
func (m *MemoryStore) CancelSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.IsCancelled = true
	}
}

// TryReserve takes a seat if one is free
func (m *MemoryStore) TryReserve(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	switch {
	case !ok:
		return domain.ErrSessionNotFound
	case s.IsCancelled:
		return domain.ErrSessionCancelled
	case s.CurrentCapacity >= s.MaxCapacity:
		return domain.ErrCapacityExceeded
	}
	s.CurrentCapacity++
	s.UpdatedAt = m.now()
	return nil
}

// Release gives a seat back, clamped at zero
func (m *MemoryStore) Release(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok && s.CurrentCapacity > 0 {
		s.CurrentCapacity--
		s.UpdatedAt = m.now()
	}
	return nil
}

// GetSession returns a copy of the session
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// CreatePending inserts a pending booking unless the user already holds an active one
func (m *MemoryStore) CreatePending(_ context.Context, booking *domain.Booking, event *domain.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bookings {
		if b.UserID == booking.UserID && b.SessionID == booking.SessionID && b.Status.IsActive() {
			return domain.ErrDuplicateActiveBooking
		}
	}
	cp := *booking
	m.bookings[booking.ID] = &cp
	if event != nil {
		m.appendOutbox(event)
	}
	return nil
}

// TransitionStatus applies the guarded transition under the store lock
func (m *MemoryStore) TransitionStatus(_ context.Context, bookingID string, from []domain.BookingStatus, to domain.BookingStatus, opts domain.TransitionOptions) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[bookingID]
	if !ok || !containsStatus(from, b.Status) {
		return false, nil
	}
	b.Status = to
	b.PaymentStatus = domain.PaymentStatusAfter(to, b.PaymentStatus)
	if opts.Reason != "" {
		b.FailureReason = opts.Reason
	}
	b.UpdatedAt = m.now()
	if opts.ReleaseSeat {
		if s, ok := m.sessions[b.SessionID]; ok && s.CurrentCapacity > 0 {
			s.CurrentCapacity--
			s.UpdatedAt = b.UpdatedAt
		}
	}
	if opts.Event != nil {
		m.appendOutbox(opts.Event)
	}
	return true, nil
}

// Get returns a copy of the booking
func (m *MemoryStore) Get(_ context.Context, bookingID string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

// ListByUser returns the user's bookings, newest first
func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

// SetPaymentRef stores the processor reference
func (m *MemoryStore) SetPaymentRef(_ context.Context, bookingID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.PaymentRef = ref
	b.UpdatedAt = m.now()
	return nil
}

// FindStalePending returns the oldest pending bookings created before olderThan
func (m *MemoryStore) FindStalePending(_ context.Context, olderThan time.Time, limit int) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Booking
	for _, b := range m.bookings {
		if b.Status == domain.BookingStatusPending && b.CreatedAt.Before(olderThan) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateRecord inserts a payment record if none exists
func (m *MemoryStore) CreateRecord(_ context.Context, record *domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[record.BookingID]; ok {
		return nil
	}
	cp := *record
	now := m.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.payments[record.BookingID] = &cp
	return nil
}

// ApplyStatus upserts the record when its current status is a legal predecessor
func (m *MemoryStore) ApplyStatus(_ context.Context, record *domain.PaymentRecord, from []domain.PaymentRecordStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.payments[record.BookingID]
	if !ok {
		cp := *record
		cp.CreatedAt, cp.UpdatedAt = now, now
		m.payments[record.BookingID] = &cp
		return true, nil
	}

	allowed := false
	for _, s := range from {
		if existing.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	existing.Status = record.Status
	if record.ExternalRef != "" {
		existing.ExternalRef = record.ExternalRef
	}
	if record.Amount > 0 {
		existing.Amount = record.Amount
	}
	if record.LastEventID != "" {
		existing.LastEventID = record.LastEventID
	}
	existing.UpdatedAt = now
	return true, nil
}

// GetRecord returns a copy of the payment record
func (m *MemoryStore) GetRecord(_ context.Context, bookingID string) (*domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.payments[bookingID]
	if !ok {
		return nil, domain.ErrPaymentRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// MarkEventProcessed claims an event id
func (m *MemoryStore) MarkEventProcessed(_ context.Context, evt *domain.ProcessedEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[evt.EventID]; ok {
		return false, nil
	}
	cp := *evt
	m.processed[evt.EventID] = &cp
	return true, nil
}

// UnmarkEventProcessed releases a claim
func (m *MemoryStore) UnmarkEventProcessed(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, eventID)
	return nil
}

// RecordConflict appends a conflict and its event
func (m *MemoryStore) RecordConflict(_ context.Context, conflict *domain.PaymentConflict, event *domain.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *conflict
	m.conflicts = append(m.conflicts, &cp)
	if event != nil {
		m.appendOutbox(event)
	}
	return nil
}

// ListConflicts returns conflicts, newest first
func (m *MemoryStore) ListConflicts(_ context.Context, limit, offset int) ([]*domain.PaymentConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.PaymentConflict, 0, len(m.conflicts))
	for i := len(m.conflicts) - 1; i >= 0; i-- {
		cp := *m.conflicts[i]
		out = append(out, &cp)
	}
	return paginate(out, limit, offset), nil
}

// ClaimPending leases the oldest pending messages
func (m *MemoryStore) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []*domain.OutboxMessage
	for _, msg := range m.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		if msg.Status != domain.OutboxStatusPending {
			continue
		}
		if until, ok := m.leases[msg.ID]; ok && now.Before(until) {
			continue
		}
		m.leases[msg.ID] = now.Add(lease)
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

// MarkAsPublished marks a message as published
func (m *MemoryStore) MarkAsPublished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := m.findOutbox(id)
	if msg == nil {
		return errOutboxMessageNotFound
	}
	now := m.now()
	msg.Status = domain.OutboxStatusPublished
	msg.PublishedAt = &now
	delete(m.leases, id)
	return nil
}

// MarkAsFailed counts a failed attempt
func (m *MemoryStore) MarkAsFailed(_ context.Context, id string, errMsg string, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := m.findOutbox(id)
	if msg == nil {
		return errOutboxMessageNotFound
	}
	msg.RetryCount++
	msg.LastError = errMsg
	if dead {
		msg.Status = domain.OutboxStatusFailed
	}
	delete(m.leases, id)
	return nil
}

// DeletePublished removes published messages older than the cutoff
func (m *MemoryStore) DeletePublished(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.outbox[:0]
	var deleted int64
	for _, msg := range m.outbox {
		if msg.Status == domain.OutboxStatusPublished && msg.PublishedAt != nil && msg.PublishedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.outbox = kept
	return deleted, nil
}

// OutboxMessages returns a snapshot of the outbox
func (m *MemoryStore) OutboxMessages() []*domain.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.OutboxMessage, 0, len(m.outbox))
	for _, msg := range m.outbox {
		cp := *msg
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) appendOutbox(msg *domain.OutboxMessage) {
	cp := *msg
	m.outbox = append(m.outbox, &cp)
}

func (m *MemoryStore) findOutbox(id string) *domain.OutboxMessage {
	for _, msg := range m.outbox {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func containsStatus(set []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
