package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
)

// APIError is a non-2xx response from the booking API
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("booking API %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the booking API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the remote booking/inventory system
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient creates a booking API client
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ============================================================================
// AVAILABILITY
// ============================================================================

// availabilityResponse accepts both `{is_available}` and `{conflicts: [...]}` shapes
type availabilityResponse struct {
	IsAvailable *bool      `json:"is_available"`
	Conflicts   roomIDList `json:"conflicts"`
}

// roomIDList decodes room ids sent as either strings or numbers
type roomIDList []string

func (l *roomIDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("invalid room id %s", string(item))
		}
		ids = append(ids, n.String())
	}
	*l = ids
	return nil
}

// CheckAvailability calls GET /rooms/check-availability and returns the conflicting room ids.
// A bare `{is_available:false}` without a list marks every requested room as conflicting.
func (c *Client) CheckAvailability(ctx context.Context, query models.AvailabilityQuery) ([]string, error) {
	params := url.Values{}
	params.Set("room_numbers", strings.Join(query.RoomIDs, ","))
	params.Set("check_in", query.CheckIn.Format(time.RFC3339))
	params.Set("check_out", query.CheckOut.Format(time.RFC3339))

	var resp availabilityResponse
	if err := c.do(ctx, http.MethodGet, "/rooms/check-availability?"+params.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}

	if len(resp.Conflicts) > 0 {
		return []string(resp.Conflicts), nil
	}
	if resp.IsAvailable != nil && !*resp.IsAvailable {
		return append([]string{}, query.RoomIDs...), nil
	}
	return []string{}, nil
}

// ============================================================================
// BOOKINGS & PAYMENTS
// ============================================================================

// CreateBooking calls POST /bookings/
func (c *Client) CreateBooking(ctx context.Context, identity models.Identity, req *models.CreateBookingRequest) (*models.Booking, error) {
	var booking models.Booking
	if err := c.do(ctx, http.MethodPost, "/bookings/", identity.Token, req, &booking); err != nil {
		return nil, err
	}
	if booking.ID == "" {
		return nil, fmt.Errorf("booking API returned a booking without id")
	}
	return &booking, nil
}

// ConfirmCash calls POST /payments/confirm-cash/. Idempotent per booking id.
func (c *Client) ConfirmCash(ctx context.Context, identity models.Identity, bookingID string) error {
	body := map[string]string{"booking_id": bookingID}
	return c.do(ctx, http.MethodPost, "/payments/confirm-cash/", identity.Token, body, nil)
}

// VerifyPayment calls POST /payments/verify/
func (c *Client) VerifyPayment(ctx context.Context, identity models.Identity, req *models.VerifyPaymentRequest) error {
	return c.do(ctx, http.MethodPost, "/payments/verify/", identity.Token, req, nil)
}

// TrackBooking calls GET /bookings/track for self-service lookup
func (c *Client) TrackBooking(ctx context.Context, bookingID, phone string) (*models.Booking, error) {
	params := url.Values{}
	params.Set("booking_id", bookingID)
	params.Set("phone", phone)

	var booking models.Booking
	if err := c.do(ctx, http.MethodGet, "/bookings/track?"+params.Encode(), "", nil, &booking); err != nil {
		if IsNotFound(err) {
			return nil, models.ErrBookingNotFound
		}
		return nil, err
	}
	return &booking, nil
}

// CancelBooking calls POST /bookings/{id}/cancel/ (customer cancellation request)
func (c *Client) CancelBooking(ctx context.Context, identity models.Identity, bookingID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(bookingID)+"/cancel/", identity.Token, body, nil)
}

// ============================================================================
// STAFF
// ============================================================================

// GetAdminBooking calls GET /admin/booking/{id}/
func (c *Client) GetAdminBooking(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	var booking models.Booking
	if err := c.do(ctx, http.MethodGet, "/admin/booking/"+url.PathEscape(bookingID)+"/", identity.Token, nil, &booking); err != nil {
		if IsNotFound(err) {
			return nil, models.ErrBookingNotFound
		}
		return nil, err
	}
	return &booking, nil
}

// ApproveCancellation calls POST /admin/booking/{id}/approve-cancellation/
func (c *Client) ApproveCancellation(ctx context.Context, identity models.Identity, bookingID string) error {
	return c.do(ctx, http.MethodPost, "/admin/booking/"+url.PathEscape(bookingID)+"/approve-cancellation/", identity.Token, nil, nil)
}

// RejectCancellation calls POST /admin/booking/{id}/reject-cancellation/
func (c *Client) RejectCancellation(ctx context.Context, identity models.Identity, bookingID string) error {
	return c.do(ctx, http.MethodPost, "/admin/booking/"+url.PathEscape(bookingID)+"/reject-cancellation/", identity.Token, nil, nil)
}

// UpdateBooking calls PATCH /admin/booking/{id}/
func (c *Client) UpdateBooking(ctx context.Context, identity models.Identity, bookingID string, update *models.StaffBookingUpdate) error {
	return c.do(ctx, http.MethodPatch, "/admin/booking/"+url.PathEscape(bookingID)+"/", identity.Token, update, nil)
}

// ============================================================================
// HELPER METHODS
// ============================================================================

func (c *Client) do(ctx context.Context, method, path, token string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Error("Booking API call failed")
		return fmt.Errorf("failed to call booking API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
		"latency_ms":  time.Since(start).Milliseconds(),
	}).Debug("Booking API response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       string(respBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
