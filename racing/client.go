package racing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUnavailable covers network errors, timeouts and 5xx responses.
	// The scheduler retries these with backoff; race state is unchanged.
	ErrUnavailable = errors.New("racing service unavailable")

	// ErrAuthFailure covers 401/403 responses. Not retried automatically;
	// it needs operator attention.
	ErrAuthFailure = errors.New("racing service authentication failed")
)

// Client talks to the external racing service over HTTP. Every call carries a
// caller-imposed deadline via ctx on top of the client-wide timeout.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the service at baseURL using a bot token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// CreateRoom opens a new invitational room and returns its handle.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodPost, "/o/rooms", req, &room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

// Invite asks the service to invite an external user to a room.
func (c *Client) Invite(ctx context.Context, slug, externalUserID string) error {
	body := map[string]string{"user": externalUserID}
	if err := c.do(ctx, http.MethodPost, "/o/rooms/"+url.PathEscape(slug)+"/invite", body, nil); err != nil {
		return fmt.Errorf("invite %s to %s: %w", externalUserID, slug, err)
	}
	return nil
}

// AcceptRequest admits a user who asked to join an invitational room.
func (c *Client) AcceptRequest(ctx context.Context, slug, externalUserID string) error {
	body := map[string]string{"user": externalUserID}
	if err := c.do(ctx, http.MethodPost, "/o/rooms/"+url.PathEscape(slug)+"/accept", body, nil); err != nil {
		return fmt.Errorf("accept join request in %s: %w", slug, err)
	}
	return nil
}

// RoomStatus fetches the current snapshot of a room.
func (c *Client) RoomStatus(ctx context.Context, slug string) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodGet, "/o/rooms/"+url.PathEscape(slug), nil, &room); err != nil {
		return nil, fmt.Errorf("room status %s: %w", slug, err)
	}
	return &room, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailure, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("racing service rejected request: status %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
