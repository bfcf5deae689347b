package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"weelo/internal/models"

	"github.com/rs/zerolog"
)

// Client talks to the weelo backend API. Every mutating request carries an
// Idempotency-Key derived from the operation id, so replaying a request the
// server already applied is a no-op on the remote side.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	invoker *Invoker
	logger  *zerolog.Logger
}

func NewClient(baseURL, apiKey string, invoker *Invoker, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
		invoker: invoker,
		logger:  logger,
	}
}

func (c *Client) CreateBooking(ctx context.Context, opID string, p models.BookingPayload) error {
	return c.invoker.ExecuteOnce(ctx, "create_booking", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/bookings", opID, p)
	})
}

func (c *Client) UpdateBooking(ctx context.Context, opID string, p models.BookingPayload) error {
	if p.BookingID == "" {
		return fmt.Errorf("update_booking: booking_id is required")
	}
	return c.invoker.ExecuteOnce(ctx, "update_booking", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, "/api/v1/bookings/"+p.BookingID, opID, p)
	})
}

func (c *Client) CancelBooking(ctx context.Context, opID string, p models.CancelBookingPayload) error {
	if p.BookingID == "" {
		return fmt.Errorf("cancel_booking: booking_id is required")
	}
	return c.invoker.ExecuteOnce(ctx, "cancel_booking", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/bookings/"+p.BookingID+"/cancel", opID, p)
	})
}

func (c *Client) UpdateProfile(ctx context.Context, opID string, p models.ProfilePayload) error {
	return c.invoker.ExecuteOnce(ctx, "update_profile", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, "/api/v1/profile", opID, p)
	})
}

func (c *Client) SyncLocation(ctx context.Context, opID string, p models.LocationPayload) error {
	return c.invoker.ExecuteOnce(ctx, "sync_location", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/api/v1/locations", opID, p)
	})
}

func (c *Client) Custom(ctx context.Context, opID string, p models.CustomPayload) error {
	if p.Endpoint == "" {
		return fmt.Errorf("custom: endpoint is required")
	}
	method := p.Method
	if method == "" {
		method = http.MethodPost
	}
	return c.invoker.ExecuteOnce(ctx, "custom", func(ctx context.Context) error {
		return c.doRaw(ctx, method, p.Endpoint, opID, []byte(p.Body))
	})
}

func (c *Client) doJSON(ctx context.Context, method, path, opID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doRaw(ctx, method, path, opID, body)
}

func (c *Client) doRaw(ctx context.Context, method, path, opID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", opID)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: remote returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
}
