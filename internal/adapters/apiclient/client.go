// Package apiclient talks to the server's per-session REST endpoints so a
// participant process can persist notes and audit events remotely.
package apiclient

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

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const requestTimeout = 10 * time.Second

// Client implements core.NotesRepository and core.AuditSink over HTTP.
type Client struct {
	base string
	user domain.UserID
	role domain.Participant
	http *http.Client
	log  zerolog.Logger
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, user domain.UserID, role domain.Participant) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url: unsupported scheme %q", u.Scheme)
	}
	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		user: user,
		role: role,
		http: &http.Client{Timeout: requestTimeout},
		log:  log.With().Str("module", "adapters.apiclient").Str("user", string(user)).Logger(),
	}, nil
}

// SignalURL is the websocket address of the signaling endpoint.
func (c *Client) SignalURL() string {
	ws := strings.Replace(c.base, "http", "ws", 1)
	return ws + "/api/ws/signal"
}

func (c *Client) sessionPath(sid domain.SessionID, tail string) string {
	return c.base + "/api/sessions/" + url.PathEscape(string(sid)) + tail
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", string(c.user))
	req.Header.Set("X-User-Role", string(c.role))

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Persistence(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		return errorOf(resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorOf maps a status back onto the error taxonomy.
func errorOf(status int, code string) error {
	cause := fmt.Errorf("server answered %d %s", status, code)
	switch {
	case status == http.StatusNotFound:
		return errors.Join(domain.ErrNotFound, cause)
	case status == http.StatusForbidden:
		return errors.Join(domain.ErrForbidden, cause)
	case status == http.StatusRequestEntityTooLarge:
		return errors.Join(domain.ErrFileTooLarge, cause)
	case status == http.StatusBadRequest:
		return errors.Join(domain.ErrInvalidMessage, cause)
	case status >= http.StatusInternalServerError:
		return domain.Persistence(cause)
	default:
		return cause
	}
}

func (c *Client) GetNotes(ctx context.Context, sid domain.SessionID) (domain.NotesDocument, error) {
	var doc domain.NotesDocument
	if err := c.do(ctx, http.MethodGet, c.sessionPath(sid, "/notes"), nil, &doc); err != nil {
		return domain.NotesDocument{}, fmt.Errorf("get notes: %w", err)
	}
	return doc, nil
}

func (c *Client) UpsertNotes(ctx context.Context, doc domain.NotesDocument) error {
	body := map[string]string{"clientId": string(doc.ClientID), "text": doc.Text}
	if err := c.do(ctx, http.MethodPut, c.sessionPath(doc.SessionID, "/notes"), body, nil); err != nil {
		return fmt.Errorf("upsert notes: %w", err)
	}
	return nil
}

// WriteAudit posts ev to the session's audit endpoint. The server stamps
// the caller from the request identity, so ev.UserID must match it.
func (c *Client) WriteAudit(ctx context.Context, ev domain.AuditEvent) error {
	if ev.UserID != c.user {
		c.log.Warn().Str("event_user", string(ev.UserID)).Msg("audit event user differs from client identity")
	}
	body := map[string]any{"type": string(ev.Type), "metadata": ev.Metadata}
	if err := c.do(ctx, http.MethodPost, c.sessionPath(ev.SessionID, "/audit"), body, nil); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}
