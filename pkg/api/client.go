// Package api is the REST client for the marketplace conversation backend.
// It owns the wire contract: bearer credentials on every request, 401 as
// process-wide session invalidation, and normalization of the backend's
// variant payload shapes into the canonical models.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parley/pkg/httpx"
	"parley/pkg/logger"
	"parley/pkg/metrics"
	"parley/pkg/models"
	"parley/pkg/session"
)

// Client talks to the conversation endpoints on behalf of one session.
// Safe for concurrent use.
type Client struct {
	base string
	doer httpx.Doer
	sess *session.Session
}

// New builds a client for the backend at baseURL. A nil doer selects the
// default net/http transport with a 30s timeout.
func New(baseURL string, d httpx.Doer, s *session.Session) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url must be absolute: %q", baseURL)
	}
	if d == nil {
		d = httpx.NewNetHTTPDoer(30 * time.Second)
	}
	if s == nil {
		return nil, fmt.Errorf("nil session")
	}
	return &Client{base: strings.TrimRight(u.String(), "/"), doer: d, sess: s}, nil
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *session.Session { return c.sess }

// ListConversations returns the actor's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	b, err := c.do(ctx, "list_conversations", http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}
	return decodeConversations(b)
}

// CreateConversation asks the backend for a conversation about listingID
// with the given counterpart participants. The backend enforces uniqueness:
// an existing conversation for the same (listing, participant-set) is
// returned instead of a duplicate.
func (c *Client) CreateConversation(ctx context.Context, listingID string, participants []string) (models.Conversation, error) {
	payload := struct {
		ListingID    string   `json:"listing_id"`
		Participants []string `json:"participants"`
	}{ListingID: listingID, Participants: participants}
	b, err := c.do(ctx, "create_conversation", http.MethodPost, "/conversations", payload)
	if err != nil {
		return models.Conversation{}, err
	}
	return decodeConversation(b)
}

// ListMessages fetches the messages of a conversation. Backend order is
// unspecified; callers sort.
func (c *Client) ListMessages(ctx context.Context, convID string) ([]models.Message, error) {
	b, err := c.do(ctx, "list_messages", http.MethodGet, "/conversations/"+url.PathEscape(convID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(b, convID)
}

// SendMessage submits a new message and returns the confirmed copy with
// its server-assigned id and timestamps.
func (c *Client) SendMessage(ctx context.Context, convID, content, kind string) (models.Message, error) {
	payload := struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}{Content: content, Type: kind}
	b, err := c.do(ctx, "send_message", http.MethodPost, "/conversations/"+url.PathEscape(convID)+"/messages", payload)
	if err != nil {
		return models.Message{}, err
	}
	return decodeMessage(b, convID)
}

// EditMessage replaces a confirmed message's body; the reply carries
// edited=true.
func (c *Client) EditMessage(ctx context.Context, convID string, id models.MessageID, content string) (models.Message, error) {
	payload := struct {
		Content string `json:"content"`
	}{Content: content}
	b, err := c.do(ctx, "edit_message", http.MethodPut, "/conversations/"+url.PathEscape(convID)+"/messages/"+url.PathEscape(string(id)), payload)
	if err != nil {
		return models.Message{}, err
	}
	return decodeMessage(b, convID)
}

// DeleteMessage soft-deletes a confirmed message.
func (c *Client) DeleteMessage(ctx context.Context, convID string, id models.MessageID) error {
	_, err := c.do(ctx, "delete_message", http.MethodDelete, "/conversations/"+url.PathEscape(convID)+"/messages/"+url.PathEscape(string(id)), nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	endpoint := method + " " + path
	tok, err := c.sess.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	var body []byte
	hdr := make(http.Header)
	hdr.Set("Authorization", "Bearer "+tok)
	hdr.Set("Accept", "application/json")
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", endpoint, err)
		}
		hdr.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(ctx, &httpx.Request{Method: method, URL: c.base + path, Header: hdr, Body: body})
	if err != nil {
		metrics.ObserveAPIRequest(op, 0)
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	metrics.ObserveAPIRequest(op, resp.Status)
	logger.Debug("api_request", "endpoint", endpoint, "status", resp.Status)

	if resp.Status >= 200 && resp.Status < 300 {
		return resp.Body, nil
	}

	apiErr := &Error{Status: resp.Status, Endpoint: endpoint}
	var eb struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body, &eb) == nil {
		apiErr.Code = eb.Code
		apiErr.Message = firstNonEmpty(eb.Message, eb.Error)
	}

	if resp.Status == http.StatusUnauthorized {
		logger.Warn("credential_rejected", "endpoint", endpoint)
		if c.sess.Valid() {
			metrics.ObserveSessionInvalidation()
		}
		c.sess.Invalidate(session.ReasonCredentialRejected)
	}
	return nil, apiErr
}
