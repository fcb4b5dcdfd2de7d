package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/gateway"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionID = "session-1"
	testPrice     = int64(1500)
)

// MockPaymentGateway is a func-field PaymentGateway
type MockPaymentGateway struct {
	InitiateChargeFunc func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeIntent, error)
	CancelChargeFunc   func(ctx context.Context, ref string) error

	mu        sync.Mutex
	cancelled []string
}

func (m *MockPaymentGateway) InitiateCharge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeIntent, error) {
	if m.InitiateChargeFunc != nil {
		return m.InitiateChargeFunc(ctx, req)
	}
	return &gateway.ChargeIntent{ExternalRef: "pi_" + req.BookingID, ClientSecret: "secret"}, nil
}

func (m *MockPaymentGateway) VerifyAndParseWebhook([]byte, string) (*gateway.WebhookEvent, error) {
	return nil, domain.ErrInvalidSignature
}

func (m *MockPaymentGateway) CancelCharge(ctx context.Context, ref string) error {
	m.mu.Lock()
	m.cancelled = append(m.cancelled, ref)
	m.mu.Unlock()
	if m.CancelChargeFunc != nil {
		return m.CancelChargeFunc(ctx, ref)
	}
	return nil
}

func (m *MockPaymentGateway) Name() string { return "mock-test" }

func (m *MockPaymentGateway) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

// MockAvailabilityCache is a func-field AvailabilityCache
type MockAvailabilityCache struct {
	GetFunc        func(ctx context.Context, sessionID string) (*domain.Availability, error)
	SetFunc        func(ctx context.Context, a *domain.Availability) error
	InvalidateFunc func(ctx context.Context, sessionID string) error
}

func (m *MockAvailabilityCache) Get(ctx context.Context, sessionID string) (*domain.Availability, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *MockAvailabilityCache) Set(ctx context.Context, a *domain.Availability) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, a)
	}
	return nil
}

func (m *MockAvailabilityCache) Invalidate(ctx context.Context, sessionID string) error {
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, sessionID)
	}
	return nil
}

// MockBookingStore overrides selected MemoryStore methods
type MockBookingStore struct {
	*repository.MemoryStore
	CreatePendingFunc func(ctx context.Context, b *domain.Booking, evt *domain.OutboxMessage) error
	GetFunc           func(ctx context.Context, bookingID string) (*domain.Booking, error)
}

func (m *MockBookingStore) CreatePending(ctx context.Context, b *domain.Booking, evt *domain.OutboxMessage) error {
	if m.CreatePendingFunc != nil {
		return m.CreatePendingFunc(ctx, b, evt)
	}
	return m.MemoryStore.CreatePending(ctx, b, evt)
}

func (m *MockBookingStore) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, bookingID)
	}
	return m.MemoryStore.Get(ctx, bookingID)
}

// MockCapacityLedger overrides Release on a MemoryStore
type MockCapacityLedger struct {
	*repository.MemoryStore
	ReleaseFunc func(ctx context.Context, sessionID string) error
}

func (m *MockCapacityLedger) Release(ctx context.Context, sessionID string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, sessionID)
	}
	return m.MemoryStore.Release(ctx, sessionID)
}

func fastRetry() *LifecycleConfig {
	return &LifecycleConfig{ReleaseRetry: &retry.Config{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}}
}

func newTestLifecycle(t *testing.T, capacity int) (*LifecycleService, *repository.MemoryStore, *MockPaymentGateway) {
	t.Helper()
	store := repository.NewMemoryStore()
	store.AddSession(&domain.Session{
		ID:          testSessionID,
		ProgramID:   "program-1",
		StartsAt:    time.Now().Add(24 * time.Hour),
		EndsAt:      time.Now().Add(26 * time.Hour),
		MaxCapacity: capacity,
		PriceAmount: testPrice,
		Currency:    "USD",
	})
	gw := &MockPaymentGateway{}
	svc := NewLifecycleService(store, store, store, gw, nil, nil)
	return svc, store, gw
}

func reserved(t *testing.T, store *repository.MemoryStore) int {
	t.Helper()
	s, err := store.GetSession(context.Background(), testSessionID)
	require.NoError(t, err)
	return s.CurrentCapacity
}

func outboxTypes(store *repository.MemoryStore) []domain.EventType {
	var types []domain.EventType
	for _, m := range store.OutboxMessages() {
		types = append(types, m.EventType)
	}
	return types
}

func succeeded(bookingID string, amount int64) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		EventID:     "evt_ok_" + bookingID,
		Kind:        domain.PaymentEventSucceeded,
		BookingID:   bookingID,
		ExternalRef: "pi_" + bookingID,
		Amount:      amount,
		Currency:    "USD",
	}
}

func failed(bookingID string) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		EventID:     "evt_fail_" + bookingID,
		Kind:        domain.PaymentEventFailed,
		BookingID:   bookingID,
		ExternalRef: "pi_" + bookingID,
		Amount:      testPrice,
		Currency:    "USD",
	}
}

func TestLifecycleService_RequestBooking(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 5)
	ctx := context.Background()

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "pi_"+resp.BookingID, resp.PaymentRef)
	assert.Equal(t, "secret", resp.ClientSecret)
	assert.Equal(t, testPrice, resp.Amount)
	assert.Equal(t, 1, reserved(t, store))

	b, err := store.Get(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, resp.PaymentRef, b.PaymentRef)

	rec, err := store.GetRecord(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, rec.Status)

	assert.Equal(t, []domain.EventType{domain.EventBookingCreated}, outboxTypes(store))
}

func TestLifecycleService_RequestBooking_Rejections(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(store *repository.MemoryStore)
		userID       string
		sessionID    string
		amount       int64
		wantErr      error
		wantReserved int
	}{
		{
			name:      "empty user",
			userID:    "",
			sessionID: testSessionID,
			amount:    testPrice,
			wantErr:   domain.ErrInvalidUserID,
		},
		{
			name:      "unknown session",
			userID:    "user-1",
			sessionID: "nope",
			amount:    testPrice,
			wantErr:   domain.ErrSessionNotFound,
		},
		{
			name:      "cancelled session",
			setup:     func(store *repository.MemoryStore) { store.CancelSession(testSessionID) },
			userID:    "user-1",
			sessionID: testSessionID,
			amount:    testPrice,
			wantErr:   domain.ErrSessionCancelled,
		},
		{
			name: "session already started",
			setup: func(store *repository.MemoryStore) {
				store.AddSession(&domain.Session{ID: testSessionID, MaxCapacity: 5, StartsAt: time.Now().Add(-time.Minute), PriceAmount: testPrice})
			},
			userID:    "user-1",
			sessionID: testSessionID,
			amount:    testPrice,
			wantErr:   domain.ErrSessionInPast,
		},
		{
			name:      "stale price",
			userID:    "user-1",
			sessionID: testSessionID,
			amount:    testPrice - 1,
			wantErr:   domain.ErrAmountMismatch,
		},
		{
			name: "sold out",
			setup: func(store *repository.MemoryStore) {
				store.AddSession(&domain.Session{ID: testSessionID, MaxCapacity: 2, CurrentCapacity: 2, StartsAt: time.Now().Add(time.Hour), PriceAmount: testPrice})
			},
			userID:       "user-1",
			sessionID:    testSessionID,
			amount:       testPrice,
			wantErr:      domain.ErrCapacityExceeded,
			wantReserved: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestLifecycle(t, 5)
			if tt.setup != nil {
				tt.setup(store)
			}

			resp, err := svc.RequestBooking(context.Background(), tt.userID, tt.sessionID, tt.amount)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantReserved, reserved(t, store))
			assert.Empty(t, store.OutboxMessages())
		})
	}
}

func TestLifecycleService_RequestBooking_DuplicateReleasesSeat(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 5)
	ctx := context.Background()

	_, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	_, err = svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	assert.ErrorIs(t, err, domain.ErrDuplicateActiveBooking)
	assert.Equal(t, 1, reserved(t, store))
}

func TestLifecycleService_RequestBooking_GatewayFailureCompensates(t *testing.T) {
	svc, store, gw := newTestLifecycle(t, 5)
	gw.InitiateChargeFunc = func(context.Context, *gateway.ChargeRequest) (*gateway.ChargeIntent, error) {
		return nil, fmt.Errorf("%w: breaker open", domain.ErrPaymentGatewayUnavailable)
	}
	ctx := context.Background()

	// Another user holds a seat; the compensation must not touch it.
	store.AddSession(&domain.Session{ID: testSessionID, MaxCapacity: 5, CurrentCapacity: 1, StartsAt: time.Now().Add(time.Hour), PriceAmount: testPrice, Currency: "USD"})

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrPaymentGatewayUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1, reserved(t, store))

	bookings, err := store.ListByUser(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, domain.BookingStatusFailed, bookings[0].Status)
	assert.Equal(t, domain.ReasonPaymentInitiationFailed, bookings[0].FailureReason)
	assert.Equal(t, []domain.EventType{domain.EventBookingCreated, domain.EventBookingFailed}, outboxTypes(store))

	// The user can retry once the gateway recovers.
	gw.InitiateChargeFunc = nil
	_, err = svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)
	assert.Equal(t, 2, reserved(t, store))
}

func TestLifecycleService_RequestBooking_GenericGatewayErrorIsUnavailable(t *testing.T) {
	svc, _, gw := newTestLifecycle(t, 5)
	gw.InitiateChargeFunc = func(context.Context, *gateway.ChargeRequest) (*gateway.ChargeIntent, error) {
		return nil, errors.New("card_error: invalid currency")
	}

	_, err := svc.RequestBooking(context.Background(), "user-1", testSessionID, testPrice)
	assert.ErrorIs(t, err, domain.ErrPaymentGatewayUnavailable)
}

func TestLifecycleService_ConcurrentRequestsNeverOversell(t *testing.T) {
	const (
		capacity = 10
		callers  = 100
	)
	svc, store, _ := newTestLifecycle(t, capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
		other    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RequestBooking(context.Background(), fmt.Sprintf("user-%d", i), testSessionID, testPrice)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrCapacityExceeded):
				rejected++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, capacity, success)
	assert.Equal(t, callers-capacity, rejected)
	assert.Equal(t, capacity, reserved(t, store))
}

func TestLifecycleService_LastSeatTwoRequests(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(context.Background(), user, testSessionID, testPrice)
		}(i, user)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if errors.Is(err, domain.ErrCapacityExceeded) {
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, reserved(t, store))
}

func TestLifecycleService_Confirm(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 5)
	ctx := context.Background()

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	outcome, err := svc.Confirm(ctx, succeeded(resp.BookingID, testPrice))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	// A second success changes nothing.
	outcome, err = svc.Confirm(ctx, succeeded(resp.BookingID, testPrice))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	b, err := store.Get(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	assert.Equal(t, domain.BookingPaymentPaid, b.PaymentStatus)
	assert.Equal(t, 1, reserved(t, store))

	rec, err := store.GetRecord(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, rec.Status)

	conflicts, err := store.ListConflicts(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestLifecycleService_Confirm_AmountMismatch(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 5)
	ctx := context.Background()

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	outcome, err := svc.Confirm(ctx, succeeded(resp.BookingID, testPrice-100))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)

	b, err := store.Get(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, b.Status)

	conflicts, err := store.ListConflicts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.ConflictAmountMismatch, conflicts[0].Reason)
}

func TestLifecycleService_Confirm_UnknownBooking(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 5)
	ctx := context.Background()

	outcome, err := svc.Confirm(ctx, succeeded("ghost", testPrice))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)

	conflicts, err := store.ListConflicts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.ConflictUnknownBooking, conflicts[0].Reason)
}

func TestLifecycleService_FailThenLateSuccess(t *testing.T) {
	svc, store, _ := newTestLifecycle(t, 5)
	ctx := context.Background()

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)
	require.Equal(t, 1, reserved(t, store))

	outcome, err := svc.Fail(ctx, failed(resp.BookingID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, reserved(t, store))

	// Redelivered failure does not release again.
	outcome, err = svc.Fail(ctx, failed(resp.BookingID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	outcome, err = svc.Confirm(ctx, succeeded(resp.BookingID, testPrice))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)

	b, err := store.Get(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusFailed, b.Status)
	assert.Equal(t, 0, reserved(t, store))

	conflicts, err := store.ListConflicts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.ConflictLateSuccess, conflicts[0].Reason)
	assert.Equal(t, domain.BookingStatusFailed, conflicts[0].BookingStatus)
	assert.Contains(t, outboxTypes(store), domain.EventBookingPaymentConflict)
}

func TestLifecycleService_SweepRacesSuccess(t *testing.T) {
	for i := 0; i < 50; i++ {
		svc, store, _ := newTestLifecycle(t, 1)
		ctx := context.Background()

		resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.ExpireStale(ctx, time.Now().Add(time.Hour), 10)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Confirm(ctx, succeeded(resp.BookingID, testPrice))
		}()
		wg.Wait()

		b, err := store.Get(ctx, resp.BookingID)
		require.NoError(t, err)
		conflicts, err := store.ListConflicts(ctx, 10, 0)
		require.NoError(t, err)

		switch b.Status {
		case domain.BookingStatusConfirmed:
			assert.Equal(t, 1, reserved(t, store))
			assert.Empty(t, conflicts)
		case domain.BookingStatusFailed:
			assert.Equal(t, 0, reserved(t, store))
			require.Len(t, conflicts, 1)
			assert.Equal(t, domain.ConflictLateSuccess, conflicts[0].Reason)
		default:
			t.Fatalf("unexpected status %s", b.Status)
		}
	}
}

func TestLifecycleService_Cancel(t *testing.T) {
	t.Run("pending booking", func(t *testing.T) {
		svc, store, gw := newTestLifecycle(t, 5)
		ctx := context.Background()
		resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
		require.NoError(t, err)

		out, err := svc.Cancel(ctx, "user-1", resp.BookingID)
		require.NoError(t, err)
		assert.Equal(t, "cancelled", out.Status)
		assert.Equal(t, 0, reserved(t, store))

		rec, err := store.GetRecord(ctx, resp.BookingID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentFailed, rec.Status)
		assert.Equal(t, []string{resp.PaymentRef}, gw.Cancelled())

		_, err = svc.Cancel(ctx, "user-1", resp.BookingID)
		assert.ErrorIs(t, err, domain.ErrStaleTransition)
		assert.Equal(t, 0, reserved(t, store))
	})

	t.Run("confirmed booking requests refund", func(t *testing.T) {
		svc, store, gw := newTestLifecycle(t, 5)
		ctx := context.Background()
		resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
		require.NoError(t, err)
		_, err = svc.Confirm(ctx, succeeded(resp.BookingID, testPrice))
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, "user-1", resp.BookingID)
		require.NoError(t, err)
		assert.Equal(t, 0, reserved(t, store))

		rec, err := store.GetRecord(ctx, resp.BookingID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentRefundRequested, rec.Status)
		assert.Empty(t, gw.Cancelled())

		b, err := store.Get(ctx, resp.BookingID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingPaymentRefundRequested, b.PaymentStatus)
	})

	t.Run("foreign booking looks missing", func(t *testing.T) {
		svc, store, _ := newTestLifecycle(t, 5)
		ctx := context.Background()
		resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, "user-2", resp.BookingID)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
		assert.Equal(t, 1, reserved(t, store))
	})
}

func TestLifecycleService_ExpireStale(t *testing.T) {
	svc, store, gw := newTestLifecycle(t, 5)
	ctx := context.Background()

	stale, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)
	paid, err := svc.RequestBooking(ctx, "user-2", testSessionID, testPrice)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, succeeded(paid.BookingID, testPrice))
	require.NoError(t, err)

	n, err := svc.ExpireStale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, reserved(t, store))

	b, err := store.Get(ctx, stale.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusFailed, b.Status)
	assert.Equal(t, domain.ReasonReservationTimeout, b.FailureReason)
	assert.Equal(t, []string{stale.PaymentRef}, gw.Cancelled())

	// Nothing left to expire.
	n, err = svc.ExpireStale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, reserved(t, store))
}

func TestLifecycleService_GetBookingAndList(t *testing.T) {
	svc, _, _ := newTestLifecycle(t, 5)
	ctx := context.Background()
	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	got, err := svc.GetBooking(ctx, "user-1", resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, resp.BookingID, got.ID)
	assert.Equal(t, "15.00", got.AmountDisplay)

	_, err = svc.GetBooking(ctx, "user-2", resp.BookingID)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	list, err := svc.ListUserBookings(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.ListUserBookings(ctx, "user-2", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLifecycleService_GetAvailability(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddSession(&domain.Session{ID: testSessionID, MaxCapacity: 3, CurrentCapacity: 1, StartsAt: time.Now().Add(time.Hour), PriceAmount: testPrice, Currency: "USD"})

	var sets int
	cache := &MockAvailabilityCache{
		SetFunc: func(_ context.Context, a *domain.Availability) error {
			sets++
			return nil
		},
	}
	svc := NewLifecycleService(store, store, store, &MockPaymentGateway{}, cache, nil)

	got, err := svc.GetAvailability(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Available)
	assert.Equal(t, 1, sets)

	cache.GetFunc = func(context.Context, string) (*domain.Availability, error) {
		return &domain.Availability{SessionID: testSessionID, MaxCapacity: 3, Available: 0}, nil
	}
	got, err = svc.GetAvailability(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Available)
	assert.Equal(t, 1, sets)

	// A broken cache falls back to the ledger.
	cache.GetFunc = func(context.Context, string) (*domain.Availability, error) {
		return nil, errors.New("redis down")
	}
	got, err = svc.GetAvailability(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Available)

	_, err = svc.GetAvailability(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestLifecycleService_RequestBooking_InsertErrorAfterCommit(t *testing.T) {
	_, store, gw := newTestLifecycle(t, 1)
	bookings := &MockBookingStore{MemoryStore: store}
	bookings.CreatePendingFunc = func(ctx context.Context, b *domain.Booking, evt *domain.OutboxMessage) error {
		// The row commits, then the client sees an error.
		require.NoError(t, store.CreatePending(ctx, b, evt))
		return context.Canceled
	}
	svc := NewLifecycleService(store, bookings, store, gw, nil, fastRetry())
	ctx := context.Background()

	_, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.Error(t, err)
	assert.Equal(t, 0, reserved(t, store))

	first, err := store.ListByUser(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, domain.BookingStatusFailed, first[0].Status)
	assert.Equal(t, domain.ReasonBookingCreateFailed, first[0].FailureReason)

	bookings.CreatePendingFunc = nil
	resp, err := svc.RequestBooking(ctx, "user-2", testSessionID, testPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, reserved(t, store))

	// Only user-2's booking is still pending, and it holds the only seat.
	expired, err := svc.ExpireStale(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, reserved(t, store))

	b, err := store.Get(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusFailed, b.Status)
}

func TestLifecycleService_RequestBooking_InsertErrorOutcomes(t *testing.T) {
	errInsert := errors.New("connection reset")

	tests := []struct {
		name         string
		getErr       error
		wantReserved int
	}{
		{name: "row missing releases seat", wantReserved: 0},
		{name: "row unreadable keeps seat", getErr: errors.New("database unavailable"), wantReserved: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, store, gw := newTestLifecycle(t, 5)
			bookings := &MockBookingStore{
				MemoryStore: store,
				CreatePendingFunc: func(context.Context, *domain.Booking, *domain.OutboxMessage) error {
					return errInsert
				},
			}
			if tt.getErr != nil {
				bookings.GetFunc = func(context.Context, string) (*domain.Booking, error) {
					return nil, tt.getErr
				}
			}
			svc := NewLifecycleService(store, bookings, store, gw, nil, fastRetry())

			_, err := svc.RequestBooking(context.Background(), "user-1", testSessionID, testPrice)
			assert.ErrorIs(t, err, errInsert)
			assert.Equal(t, tt.wantReserved, reserved(t, store))
			assert.Empty(t, gw.Cancelled())
		})
	}
}

func TestLifecycleService_Fail_ReleasesWithTransition(t *testing.T) {
	_, store, gw := newTestLifecycle(t, 1)
	ledger := &MockCapacityLedger{
		MemoryStore: store,
		ReleaseFunc: func(context.Context, string) error {
			return errors.New("ledger unavailable")
		},
	}
	svc := NewLifecycleService(ledger, store, store, gw, nil, fastRetry())
	ctx := context.Background()

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	outcome, err := svc.Fail(ctx, failed(resp.BookingID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, reserved(t, store))

	_, err = svc.RequestBooking(ctx, "user-2", testSessionID, testPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, reserved(t, store))
}

func TestLifecycleService_CompensationRetriesRelease(t *testing.T) {
	_, store, gw := newTestLifecycle(t, 5)
	var calls int
	ledger := &MockCapacityLedger{MemoryStore: store}
	ledger.ReleaseFunc = func(ctx context.Context, sessionID string) error {
		calls++
		if calls == 1 {
			return errors.New("ledger unavailable")
		}
		return store.Release(ctx, sessionID)
	}
	svc := NewLifecycleService(ledger, store, store, gw, nil, fastRetry())
	ctx := context.Background()

	_, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	_, err = svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	assert.ErrorIs(t, err, domain.ErrDuplicateActiveBooking)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, reserved(t, store))
}

func TestLifecycleService_Fail_CancelsProcessorCharge(t *testing.T) {
	svc, store, gw := newTestLifecycle(t, 5)
	ctx := context.Background()

	resp, err := svc.RequestBooking(ctx, "user-1", testSessionID, testPrice)
	require.NoError(t, err)

	outcome, err := svc.Fail(ctx, failed(resp.BookingID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{resp.PaymentRef}, gw.Cancelled())

	b, err := store.Get(ctx, resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaymentFailed, b.PaymentStatus)

	// A redelivered failure does not cancel again.
	outcome, err = svc.Fail(ctx, failed(resp.BookingID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Len(t, gw.Cancelled(), 1)
}
