package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/dto"
	"github.com/prohmpiriya/program-booking-engine/internal/service"
	"github.com/prohmpiriya/program-booking-engine/pkg/middleware"
	"github.com/prohmpiriya/program-booking-engine/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockBookingLifecycle is a func-field BookingLifecycle
type MockBookingLifecycle struct {
	RequestBookingFunc   func(ctx context.Context, userID, sessionID string, expectedAmount int64) (*dto.CreateBookingResponse, error)
	CancelFunc           func(ctx context.Context, userID, bookingID string) (*dto.CancelBookingResponse, error)
	GetBookingFunc       func(ctx context.Context, userID, bookingID string) (*dto.BookingResponse, error)
	ListUserBookingsFunc func(ctx context.Context, userID string, limit, offset int) ([]*dto.BookingResponse, error)
	GetAvailabilityFunc  func(ctx context.Context, sessionID string) (*dto.AvailabilityResponse, error)
}

func (m *MockBookingLifecycle) RequestBooking(ctx context.Context, userID, sessionID string, expectedAmount int64) (*dto.CreateBookingResponse, error) {
	if m.RequestBookingFunc != nil {
		return m.RequestBookingFunc(ctx, userID, sessionID, expectedAmount)
	}
	return nil, errors.New("not implemented")
}

func (m *MockBookingLifecycle) Cancel(ctx context.Context, userID, bookingID string) (*dto.CancelBookingResponse, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, userID, bookingID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockBookingLifecycle) GetBooking(ctx context.Context, userID, bookingID string) (*dto.BookingResponse, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, userID, bookingID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockBookingLifecycle) ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*dto.BookingResponse, error) {
	if m.ListUserBookingsFunc != nil {
		return m.ListUserBookingsFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *MockBookingLifecycle) GetAvailability(ctx context.Context, sessionID string) (*dto.AvailabilityResponse, error) {
	if m.GetAvailabilityFunc != nil {
		return m.GetAvailabilityFunc(ctx, sessionID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockBookingLifecycle) ExpireStale(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// MockAdmin is a func-field AdminOperations
type MockAdmin struct {
	OverrideFunc      func(ctx context.Context, actor, bookingID, status, reason string) (*dto.AdminOverrideResponse, error)
	ListConflictsFunc func(ctx context.Context, limit, offset int) ([]*domain.PaymentConflict, error)
}

func (m *MockAdmin) Override(ctx context.Context, actor, bookingID, status, reason string) (*dto.AdminOverrideResponse, error) {
	if m.OverrideFunc != nil {
		return m.OverrideFunc(ctx, actor, bookingID, status, reason)
	}
	return nil, errors.New("not implemented")
}

func (m *MockAdmin) ListConflicts(ctx context.Context, limit, offset int) ([]*domain.PaymentConflict, error) {
	if m.ListConflictsFunc != nil {
		return m.ListConflictsFunc(ctx, limit, offset)
	}
	return nil, nil
}

// MockReconciler is a func-field WebhookReconciler
type MockReconciler struct {
	HandleFunc func(ctx context.Context, payload []byte, sig string) (service.Outcome, error)
}

func (m *MockReconciler) Handle(ctx context.Context, payload []byte, sig string) (service.Outcome, error) {
	return m.HandleFunc(ctx, payload, sig)
}

// MockHealthChecker returns Err from every probe
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(context.Context) error { return m.Err }

const testSecret = "handler-test-secret"

type testServer struct {
	router    *gin.Engine
	validator *middleware.TokenValidator
}

func newTestServer(lc service.BookingLifecycle, admin service.AdminOperations, rec WebhookReconciler, checks map[string]HealthChecker) *testServer {
	v := middleware.NewTokenValidator(middleware.AuthConfig{Secret: testSecret})
	if rec == nil {
		rec = &MockReconciler{HandleFunc: func(context.Context, []byte, string) (service.Outcome, error) {
			return service.OutcomeIgnored, nil
		}}
	}
	r := NewRouter(RouterConfig{
		ServiceName: "booking-api-test",
		Auth:        v,
		Bookings:    NewBookingHandler(lc),
		Webhooks:    NewWebhookHandler(rec),
		Admin:       NewAdminHandler(admin),
		Health:      NewHealthHandler(checks),
	})
	return &testServer{router: r, validator: v}
}

func (s *testServer) do(t *testing.T, method, path, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := s.validator.Issue("user-1", role, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateBooking(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		err        error
		wantStatus int
		wantCode   string
	}{
		{"created", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, nil, http.StatusCreated, ""},
		{"free session", map[string]interface{}{"session_id": "s1", "expected_amount": 0}, nil, http.StatusCreated, ""},
		{"missing amount", map[string]interface{}{"session_id": "s1"}, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing session", map[string]interface{}{"expected_amount": 1500}, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"full", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, domain.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
		{"duplicate", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, domain.ErrDuplicateActiveBooking, http.StatusConflict, "ALREADY_BOOKED"},
		{"session cancelled", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, domain.ErrSessionCancelled, http.StatusConflict, "SESSION_CANCELLED"},
		{"price changed", map[string]interface{}{"session_id": "s1", "expected_amount": 1000}, domain.ErrAmountMismatch, http.StatusConflict, "PRICE_CHANGED"},
		{"started", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, domain.ErrSessionInPast, http.StatusUnprocessableEntity, "SESSION_STARTED"},
		{"unknown session", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, domain.ErrSessionNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"gateway down", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, domain.ErrPaymentGatewayUnavailable, http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE"},
		{"unexpected", map[string]interface{}{"session_id": "s1", "expected_amount": 1500}, errors.New("pq: connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &MockBookingLifecycle{
				RequestBookingFunc: func(_ context.Context, userID, sessionID string, amount int64) (*dto.CreateBookingResponse, error) {
					assert.Equal(t, "user-1", userID)
					assert.Equal(t, "s1", sessionID)
					if tt.err != nil {
						return nil, tt.err
					}
					return &dto.CreateBookingResponse{BookingID: "b1", Status: "pending", PaymentRef: "pi_1", Amount: amount, Currency: "USD"}, nil
				},
			}
			srv := newTestServer(lc, &MockAdmin{}, nil, nil)

			w := srv.do(t, http.MethodPost, "/api/v1/bookings", "user", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			if tt.wantCode == "" {
				assert.True(t, resp.Success)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "pq:")
		})
	}
}

func TestCreateBooking_RequiresAuth(t *testing.T) {
	srv := newTestServer(&MockBookingLifecycle{}, &MockAdmin{}, nil, nil)

	w := srv.do(t, http.MethodPost, "/api/v1/bookings", "", map[string]interface{}{"session_id": "s1", "expected_amount": 1})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateBooking_RetryAfterOnGatewayOutage(t *testing.T) {
	lc := &MockBookingLifecycle{
		RequestBookingFunc: func(context.Context, string, string, int64) (*dto.CreateBookingResponse, error) {
			return nil, domain.ErrPaymentGatewayUnavailable
		},
	}
	srv := newTestServer(lc, &MockAdmin{}, nil, nil)

	w := srv.do(t, http.MethodPost, "/api/v1/bookings", "user", map[string]interface{}{"session_id": "s1", "expected_amount": 1})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCancelBooking(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"cancelled", nil, http.StatusOK},
		{"already finalized", domain.ErrStaleTransition, http.StatusConflict},
		{"not found", domain.ErrBookingNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &MockBookingLifecycle{
				CancelFunc: func(_ context.Context, userID, bookingID string) (*dto.CancelBookingResponse, error) {
					assert.Equal(t, "b1", bookingID)
					if tt.err != nil {
						return nil, tt.err
					}
					return &dto.CancelBookingResponse{BookingID: bookingID, Status: "cancelled"}, nil
				},
			}
			srv := newTestServer(lc, &MockAdmin{}, nil, nil)

			w := srv.do(t, http.MethodPost, "/api/v1/bookings/b1/cancel", "user", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestListBookings_Pagination(t *testing.T) {
	var gotLimit, gotOffset int
	lc := &MockBookingLifecycle{
		ListUserBookingsFunc: func(_ context.Context, _ string, limit, offset int) ([]*dto.BookingResponse, error) {
			gotLimit, gotOffset = limit, offset
			return []*dto.BookingResponse{{ID: "b1"}, {ID: "b2"}}, nil
		},
	}
	srv := newTestServer(lc, &MockAdmin{}, nil, nil)

	w := srv.do(t, http.MethodGet, "/api/v1/bookings", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 0, gotOffset)

	w = srv.do(t, http.MethodGet, "/api/v1/bookings?limit=5&offset=10", "user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, 10, gotOffset)

	w = srv.do(t, http.MethodGet, "/api/v1/bookings?limit=500", "user", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBooking_NotOwned(t *testing.T) {
	lc := &MockBookingLifecycle{
		GetBookingFunc: func(context.Context, string, string) (*dto.BookingResponse, error) {
			return nil, domain.ErrBookingNotFound
		},
	}
	srv := newTestServer(lc, &MockAdmin{}, nil, nil)

	w := srv.do(t, http.MethodGet, "/api/v1/bookings/someone-elses", "user", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAvailability(t *testing.T) {
	lc := &MockBookingLifecycle{
		GetAvailabilityFunc: func(_ context.Context, sessionID string) (*dto.AvailabilityResponse, error) {
			return &dto.AvailabilityResponse{SessionID: sessionID, MaxCapacity: 10, Reserved: 4, Available: 6}, nil
		},
	}
	srv := newTestServer(lc, &MockAdmin{}, nil, nil)

	w := srv.do(t, http.MethodGet, "/api/v1/sessions/s1/availability", "user", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":6`)
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name       string
		outcome    service.Outcome
		err        error
		wantStatus int
	}{
		{"confirmed", service.OutcomeConfirmed, nil, http.StatusOK},
		{"duplicate", service.OutcomeDuplicate, nil, http.StatusOK},
		{"bad signature", service.OutcomeRejected, domain.ErrInvalidSignature, http.StatusBadRequest},
		{"transient", "", errors.New("db unavailable"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &MockReconciler{HandleFunc: func(_ context.Context, payload []byte, sig string) (service.Outcome, error) {
				assert.Equal(t, "t=1,v1=abc", sig)
				assert.NotEmpty(t, payload)
				return tt.outcome, tt.err
			}}
			srv := newTestServer(&MockBookingLifecycle{}, &MockAdmin{}, rec, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewBufferString(`{"id":"evt_1"}`))
			req.Header.Set(SignatureHeader, "t=1,v1=abc")
			w := httptest.NewRecorder()
			srv.router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), string(tt.outcome))
			}
		})
	}
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	called := false
	rec := &MockReconciler{HandleFunc: func(context.Context, []byte, string) (service.Outcome, error) {
		called = true
		return service.OutcomeIgnored, nil
	}}
	srv := newTestServer(&MockBookingLifecycle{}, &MockAdmin{}, rec, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(make([]byte, maxWebhookBytes+10)))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, called)
}

func TestAdminOverride(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		err        error
		wantStatus int
	}{
		{"applied", "admin", nil, http.StatusOK},
		{"not admin", "user", nil, http.StatusForbidden},
		{"illegal", "admin", domain.ErrIllegalTransition, http.StatusUnprocessableEntity},
		{"lost race", "admin", domain.ErrStaleTransition, http.StatusConflict},
		{"bad status", "admin", domain.ErrInvalidBookingStatus, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := &MockAdmin{
				OverrideFunc: func(_ context.Context, actor, bookingID, status, reason string) (*dto.AdminOverrideResponse, error) {
					assert.Equal(t, "user-1", actor)
					assert.Equal(t, "b1", bookingID)
					assert.Equal(t, "cancelled", status)
					if tt.err != nil {
						return nil, tt.err
					}
					return &dto.AdminOverrideResponse{BookingID: bookingID, PreviousStatus: "confirmed", Status: status}, nil
				},
			}
			srv := newTestServer(&MockBookingLifecycle{}, admin, nil, nil)

			w := srv.do(t, http.MethodPost, "/api/v1/admin/bookings/b1/override", tt.role,
				map[string]string{"status": "cancelled", "reason": "venue closed"})

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAdminListConflicts(t *testing.T) {
	admin := &MockAdmin{
		ListConflictsFunc: func(_ context.Context, limit, offset int) ([]*domain.PaymentConflict, error) {
			return []*domain.PaymentConflict{{ID: "c1", BookingID: "b1", Reason: domain.ConflictLateSuccess}}, nil
		},
	}
	srv := newTestServer(&MockBookingLifecycle{}, admin, nil, nil)

	w := srv.do(t, http.MethodGet, "/api/v1/admin/payment-conflicts", "admin", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"c1"`)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&MockBookingLifecycle{}, &MockAdmin{}, nil, nil)

	w := srv.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all healthy",
			checks:     map[string]HealthChecker{"database": &MockHealthChecker{}, "redis": &MockHealthChecker{}},
			wantStatus: http.StatusOK,
			wantBody:   `"ready"`,
		},
		{
			name:       "redis optional",
			checks:     map[string]HealthChecker{"database": &MockHealthChecker{}, "redis": nil},
			wantStatus: http.StatusOK,
			wantBody:   "not configured",
		},
		{
			name:       "database down",
			checks:     map[string]HealthChecker{"database": &MockHealthChecker{Err: errors.New("connection refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&MockBookingLifecycle{}, &MockAdmin{}, nil, tt.checks)

			w := srv.do(t, http.MethodGet, "/ready", "", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
