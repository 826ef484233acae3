package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
)

// UserIDHeader carries the acting user on seat calls that need one.
const UserIDHeader = "X-User-Id"

// HTTPClient talks to the seat endpoints of a remote showbook instance.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

type lockRequest struct {
	SeatIDs    []int64 `json:"seat_ids"`
	UserID     int64   `json:"user_id"`
	TTLSeconds int64   `json:"ttl_seconds,omitempty"`
	HoldRef    string  `json:"hold_ref,omitempty"`
}

type lockResponse struct {
	LockedSeatIDs    []int64   `json:"locked_seat_ids"`
	LockedSeatLabels []string  `json:"locked_seat_labels"`
	LockExpiresAt    time.Time `json:"lock_expires_at"`
	TotalPriceCents  int64     `json:"total_price_cents"`
}

type seatsRequest struct {
	SeatIDs    []int64 `json:"seat_ids"`
	BookingRef string  `json:"booking_ref,omitempty"`
	HoldRef    string  `json:"hold_ref,omitempty"`
}

type confirmResponse struct {
	ConfirmedSeatIDs []int64 `json:"confirmed_seat_ids"`
	RejectedSeatIDs  []int64 `json:"rejected_seat_ids"`
}

func (c *HTTPClient) Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error) {
	const op = "catalog.HTTPClient.Snapshot"

	var snap domain.ShowSnapshot
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/shows/%d/snapshot", showID), 0, nil, &snap); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &snap, nil
}

// LockSeats locks all seats or none; the remote endpoint rolls back partial
// results itself and answers 409.
func (c *HTTPClient) LockSeats(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	ttl time.Duration,
	holdRef string,
) (*LockResult, error) {
	const op = "catalog.HTTPClient.LockSeats"

	req := lockRequest{SeatIDs: seatIDs, UserID: userID, TTLSeconds: int64(ttl / time.Second), HoldRef: holdRef}

	var resp lockResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/shows/%d/seats/lock", showID), userID, req, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &LockResult{
		LockedSeatIDs:    resp.LockedSeatIDs,
		LockedSeatLabels: resp.LockedSeatLabels,
		LockExpiresAt:    resp.LockExpiresAt,
		TotalPriceCents:  resp.TotalPriceCents,
	}, nil
}

func (c *HTTPClient) ConfirmSeats(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	bookingRef string,
) (*ConfirmResult, error) {
	const op = "catalog.HTTPClient.ConfirmSeats"

	req := seatsRequest{SeatIDs: seatIDs, BookingRef: bookingRef}

	var resp confirmResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/shows/%d/seats/confirm", showID), userID, req, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &ConfirmResult{Confirmed: resp.ConfirmedSeatIDs, Rejected: resp.RejectedSeatIDs}, nil
}

func (c *HTTPClient) ReleaseSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, holdRef string) error {
	const op = "catalog.HTTPClient.ReleaseSeats"

	req := seatsRequest{SeatIDs: seatIDs, HoldRef: holdRef}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/shows/%d/seats/release", showID), userID, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *HTTPClient) ReleaseBookedSeats(ctx context.Context, showID int64, seatIDs []int64, bookingRef string) error {
	const op = "catalog.HTTPClient.ReleaseBookedSeats"

	req := seatsRequest{SeatIDs: seatIDs, BookingRef: bookingRef}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/shows/%d/seats/release-booked", showID), 0, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// do sends one JSON request bounded by the client timeout and decodes a 2xx
// body into out. Status codes are mapped onto the catalog error set.
func (c *HTTPClient) do(ctx context.Context, method, path string, userID int64, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set(UserIDHeader, strconv.FormatInt(userID, 10))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
		}
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusUnprocessableEntity:
		sentinel = ErrConflict
	case resp.StatusCode == http.StatusBadRequest:
		sentinel = ErrInvalid
	default:
		sentinel = ErrUnavailable
	}

	return fmt.Errorf("%w: %s %s: %d %s", sentinel, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
