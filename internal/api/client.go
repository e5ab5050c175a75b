package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/model"
	"ycyw-chat/internal/token"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// StatusError is returned for any other non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Code, logger.Truncate(e.Body, 200))
}

// Client talks to the REST side of the support service. Requests carry the
// token handed out by the injected source; there is no client-side timeout,
// callers bound requests with their context.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  token.Source
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, tokens token.Source, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.Or(c.logger).With("component", "api")
	return c
}

func (c *Client) Login(ctx context.Context, email, password string) (model.AuthResponse, error) {
	var resp model.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", model.LoginRequest{Email: email, Password: password}, &resp, false)
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("login: %w", err)
	}
	return resp, nil
}

func (c *Client) Me(ctx context.Context) (model.UserProfile, error) {
	var user model.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/profile/me", nil, &user, true); err != nil {
		return model.UserProfile{}, fmt.Errorf("fetching profile: %w", err)
	}
	return user, nil
}

func (c *Client) DialogsBySender(ctx context.Context, senderID int64) ([]model.Dialog, error) {
	var dialogs []model.Dialog
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/dialog/sender/%d", senderID), nil, &dialogs, true); err != nil {
		return nil, fmt.Errorf("fetching dialogs of sender %d: %w", senderID, err)
	}
	return dialogs, nil
}

func (c *Client) DialogsByStatus(ctx context.Context, status model.DialogStatus) ([]model.Dialog, error) {
	var dialogs []model.Dialog
	path := "/api/dialog/status/" + url.PathEscape(string(status))
	if err := c.do(ctx, http.MethodGet, path, nil, &dialogs, true); err != nil {
		return nil, fmt.Errorf("fetching %s dialogs: %w", status, err)
	}
	return dialogs, nil
}

func (c *Client) Dialog(ctx context.Context, id int64) (model.Dialog, error) {
	var d model.Dialog
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/dialog/%d", id), nil, &d, true); err != nil {
		return model.Dialog{}, fmt.Errorf("fetching dialog %d: %w", id, err)
	}
	return d, nil
}

func (c *Client) MarkAsRead(ctx context.Context, dialogID, senderID int64) error {
	path := fmt.Sprintf("/api/dialog/%d/%d/markasread", dialogID, senderID)
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil, true); err != nil {
		return fmt.Errorf("marking dialog %d read: %w", dialogID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		c.authorize(ctx, req)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode < 200 || res.StatusCode > 299:
		b, _ := io.ReadAll(res.Body)
		return &StatusError{Code: res.StatusCode, Body: string(b)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// authorize attaches the bearer token when one is available; without one the
// request goes out bare and the server decides.
func (c *Client) authorize(ctx context.Context, req *http.Request) {
	if c.tokens == nil {
		return
	}
	tok, err := c.tokens.Token()
	if err != nil {
		c.logger.WarnContext(ctx, "no usable token for request", slog.String("path", req.URL.Path), logger.Err(err))
		return
	}
	req.Header.Set("Authorization", "Bearer "+tok)
}
