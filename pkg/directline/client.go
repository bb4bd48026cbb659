// SPDX-License-Identifier: Apache-2.0

// Package directline is a client for remote conversational agents reachable
// over the Bot Framework Direct Line v3 protocol.
//
// A Client holds one credential and a table of conversation sessions keyed
// by a caller-chosen conversation key. Each session remembers the remote
// conversation id and the watermark of the last consumed activity.
package directline

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"github.com/jllopis/crewkernel/pkg/config"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/resilience"
)

const (
	// DefaultBaseURL is the public Direct Line endpoint.
	DefaultBaseURL = "https://directline.botframework.com/v3/directline"
	// DefaultUserID is the id the client posts activities as.
	DefaultUserID = "user"

	maxErrorBody = 4 << 10
)

// Account identifies the author of an activity.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Activity is one entry of a Direct Line conversation.
type Activity struct {
	Type        string         `json:"type,omitempty"`
	ID          string         `json:"id,omitempty"`
	From        Account        `json:"from"`
	Text        string         `json:"text,omitempty"`
	ChannelData map[string]any `json:"channelData,omitempty"`
}

// ActivitySet is the body of a GET activities response.
type ActivitySet struct {
	Activities []Activity `json:"activities"`
	Watermark  string     `json:"watermark,omitempty"`
}

type conversation struct {
	ConversationID string `json:"conversationId"`
}

type session struct {
	mu             sync.Mutex
	conversationID string
	watermark      string
}

// Session is a snapshot of one conversation session.
type Session struct {
	Key            string `json:"key"`
	ConversationID string `json:"conversation_id"`
	Watermark      string `json:"watermark,omitempty"`
}

// Client exchanges messages with remote agents. It is safe for concurrent
// use; sends sharing a conversation key are serialized.
type Client struct {
	secret     string
	baseURL    string
	userID     string
	httpClient *http.Client
	poll       resilience.Retry
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the Direct Line endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithUserID sets the id activities are posted as. Replies are the
// activities authored by anyone else.
func WithUserID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.userID = id
		}
	}
}

// WithPolling sets how many times the activity stream is read while waiting
// for a reply, and the fixed delay between reads.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.poll = resilience.FixedDelay(attempts, interval)
		}
	}
}

// WithRateLimit bounds outgoing requests to rps per second. Zero disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker trips after failures consecutive transport or server
// errors and rejects calls until cooldown elapses.
func WithCircuitBreaker(failures int, cooldown time.Duration) Option {
	return func(c *Client) {
		if failures <= 0 {
			c.breaker = nil
			return
		}
		c.breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:     "directline",
			Failures: failures,
			Cooldown: cooldown,
		})
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// OptionsFromConfig translates the directline configuration section.
func OptionsFromConfig(cfg config.DirectLineConfig) []Option {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithUserID(cfg.UserID),
		WithPolling(cfg.PollAttempts, cfg.PollInterval),
		WithRateLimit(cfg.RateLimit, cfg.Burst),
		WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	}
	return opts
}

// New creates a client authenticating with secret.
func New(secret string, opts ...Option) *Client {
	c := &Client{
		secret:     secret,
		baseURL:    DefaultBaseURL,
		userID:     DefaultUserID,
		httpClient: http.DefaultClient,
		poll:       resilience.FixedDelay(5, time.Second),
		logger:     slog.Default(),
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var errNoReply = stderrors.New("no reply yet")

// Send posts message to agentID on the conversation identified by
// conversationKey and waits for the agent's reply. An empty key starts a new
// conversation under a generated key.
func (c *Client) Send(ctx context.Context, agentID, message, conversationKey string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New(errors.CodeInvalidInput, "message is required", nil)
	}
	if conversationKey == "" {
		conversationKey = "conv_" + uuid.NewString()
	}

	s := c.session(conversationKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := c.logger.With(slog.String("agent_id", agentID), slog.String("conversation_key", conversationKey))
	if s.conversationID == "" {
		id, err := c.startConversation(ctx)
		if err != nil {
			logger.WarnContext(ctx, "directline.conversation.failed", slog.String("error", err.Error()))
			return "", err
		}
		s.conversationID = id
		logger.DebugContext(ctx, "directline.conversation.start", slog.String("conversation_id", id))
	}

	start := time.Now()
	logger.DebugContext(ctx, "directline.send.start", slog.Int("message_chars", len(message)))
	if err := c.postActivity(ctx, s.conversationID, agentID, message); err != nil {
		logger.WarnContext(ctx, "directline.send.failed", slog.String("error", err.Error()))
		return "", err
	}

	reply, err := c.awaitReply(ctx, s)
	if err != nil {
		logger.WarnContext(ctx, "directline.reply.failed", slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return "", err
	}
	logger.DebugContext(ctx, "directline.send.done", slog.Int("reply_chars", len(reply)),
		slog.Duration("elapsed", time.Since(start)))
	return reply, nil
}

// Sessions returns a snapshot of the known sessions sorted by key.
func (c *Client) Sessions() []Session {
	c.mu.Lock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	sessions := make(map[string]*session, len(c.sessions))
	for k, s := range c.sessions {
		sessions[k] = s
	}
	c.mu.Unlock()
	sort.Strings(keys)

	out := make([]Session, 0, len(keys))
	for _, k := range keys {
		s := sessions[k]
		s.mu.Lock()
		out = append(out, Session{Key: k, ConversationID: s.conversationID, Watermark: s.watermark})
		s.mu.Unlock()
	}
	return out
}

func (c *Client) session(key string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		s = &session{}
		c.sessions[key] = s
	}
	return s
}

func (c *Client) startConversation(ctx context.Context) (string, error) {
	var conv conversation
	err := c.do(ctx, "start conversation", http.MethodPost, "/conversations", nil,
		func(status int) bool { return status == http.StatusCreated }, &conv)
	if err != nil {
		return "", err
	}
	if conv.ConversationID == "" {
		return "", errors.Protocol("start conversation", http.StatusCreated, "missing conversationId", nil)
	}
	return conv.ConversationID, nil
}

func (c *Client) postActivity(ctx context.Context, conversationID, agentID, message string) error {
	activity := Activity{
		Type:        "message",
		From:        Account{ID: c.userID},
		Text:        message,
		ChannelData: map[string]any{"agentId": agentID},
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/activities"
	return c.do(ctx, "send message", http.MethodPost, path, activity,
		func(status int) bool { return status == http.StatusOK || status == http.StatusCreated }, nil)
}

// awaitReply reads the activity stream until an activity authored by someone
// other than the caller shows up. Every read advances the watermark.
func (c *Client) awaitReply(ctx context.Context, s *session) (string, error) {
	poll := c.poll.Until(func(err error) bool { return stderrors.Is(err, errNoReply) })
	var reply string
	err := poll.Do(ctx, func() error {
		set, err := c.activities(ctx, s.conversationID, s.watermark)
		if err != nil {
			return resilience.Stop(err)
		}
		if set.Watermark != "" {
			s.watermark = set.Watermark
		}
		for i := len(set.Activities) - 1; i >= 0; i-- {
			a := set.Activities[i]
			if a.From.ID == c.userID || (a.Type != "" && a.Type != "message") {
				continue
			}
			reply = a.Text
			return nil
		}
		return errNoReply
	})
	if stderrors.Is(err, errNoReply) {
		return "", errors.NoResponse(poll.Attempts)
	}
	return reply, err
}

func (c *Client) activities(ctx context.Context, conversationID, watermark string) (*ActivitySet, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/activities"
	if watermark != "" {
		path += "?watermark=" + url.QueryEscape(watermark)
	}
	var set ActivitySet
	err := c.do(ctx, "get bot response", http.MethodGet, path, nil,
		func(status int) bool { return status == http.StatusOK }, &set)
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// do runs one request through the rate limiter and the circuit breaker. Only
// transport failures and retryable statuses count against the breaker.
func (c *Client) do(ctx context.Context, op, method, path string, payload any, accept func(int) bool, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.New(errors.CodeRateLimit, op+" rate limited", err)
		}
	}
	if c.breaker == nil {
		return c.roundTrip(ctx, op, method, path, payload, accept, out)
	}
	var callErr error
	err := c.breaker.Call(func() error {
		callErr = c.roundTrip(ctx, op, method, path, payload, accept, out)
		if callErr != nil && errors.AsCrewError(callErr).Recoverable {
			return callErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	return callErr
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload any, accept func(int) bool, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.New(errors.CodeInternal, "encode "+op+" payload", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.New(errors.CodeInternal, "build "+op+" request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if payload != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.New(errors.CodeContextLost, op+" canceled", err)
		}
		return errors.Protocol(op, 0, "", err)
	}
	defer resp.Body.Close()

	if !accept(resp.StatusCode) {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Protocol(op, resp.StatusCode, strings.TrimSpace(string(text)), nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Protocol(op, resp.StatusCode, fmt.Sprintf("invalid body: %v", err), err)
	}
	return nil
}
