package api

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

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
)

// Config points the client at the room service.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
	RetryDelay time.Duration
}

// Client calls the room REST endpoints with a bearer token. Transient
// failures (network errors and 5xx) are retried; auth failures are not.
type Client struct {
	base   string
	token  string
	http   *http.Client
	policy func() backoff.BackOff
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	retries, delay := cfg.MaxRetries, cfg.RetryDelay
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		policy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), retries)
		},
	}
}

type readyBody struct {
	PlayerID domain.ID `json:"playerId"`
	Ready    bool      `json:"ready"`
}

type leaveBody struct {
	PlayerID domain.ID `json:"playerId"`
}

type experienceBody struct {
	Points int `json:"points"`
}

func (c *Client) JoinRoom(ctx context.Context, roomID domain.ID, player domain.PlayerProfile) (domain.RoomState, error) {
	var room domain.RoomState
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/join", player, &room)
	return room, err
}

func (c *Client) LeaveRoom(ctx context.Context, roomID, playerID domain.ID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/leave", leaveBody{PlayerID: playerID}, nil)
}

func (c *Client) SetReady(ctx context.Context, roomID, playerID domain.ID, ready bool) error {
	return c.do(ctx, http.MethodPut, "/rooms/"+url.PathEscape(string(roomID))+"/ready", readyBody{PlayerID: playerID, Ready: ready}, nil)
}

func (c *Client) SaveExperience(ctx context.Context, playerID domain.ID, points int) error {
	return c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(string(playerID))+"/experience", experienceBody{Points: points}, nil)
}

// StatusError is a non-2xx answer that is neither 401 nor 403.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(domain.ErrUnauthorized)
		case resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(domain.ErrForbidden)
		case resp.StatusCode >= 500:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		case resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("path", path).Dur("retry_in", wait).Msg("room api call failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.policy(), ctx), notify); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}
