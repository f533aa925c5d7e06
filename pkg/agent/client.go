// Package agent talks to the conversational-AI provider: two small REST
// calls (agent prompt, short-lived signed connection URL) and the WebSocket
// dial that opens the conversation itself.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/sambung/pkg/errorsx"
	"github.com/harunnryd/sambung/pkg/resilience"
)

const defaultBaseURL = "https://api.elevenlabs.io"

type Config struct {
	APIKey     string
	AgentID    string
	BaseURL    string
	PromptURL  string
	BasePrompt string

	HTTPTimeout time.Duration
	DialTimeout time.Duration

	// Retries applies to the two REST fetches, not the socket dial.
	Retries      int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Client is safe for concurrent use across sessions.
type Client struct {
	cfg   Config
	http  *http.Client
	retry resilience.RetryPolicy
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.HTTPTimeout},
		retry: resilience.NewRetryPolicy(cfg.Retries, cfg.RetryBackoff),
	}
}

// Prompt returns the agent prompt. When a prompt endpoint is configured it
// is fetched per call, so prompt edits land without a redeploy; otherwise
// the static base prompt from config is used.
func (c *Client) Prompt(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.cfg.PromptURL) == "" {
		return c.cfg.BasePrompt, nil
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	err := c.retry.Do(ctx, func() error {
		return c.getJSON(ctx, c.cfg.PromptURL, &out)
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonAgentPrompt)
	}
	if out.Prompt == "" {
		return c.cfg.BasePrompt, nil
	}
	return out.Prompt, nil
}

// SignedURL fetches a one-time-use authenticated WebSocket URL for the
// configured agent.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.AgentID == "" {
		return "", errorsx.Wrap(errors.New("missing agent credentials"), errorsx.ReasonAgentSignedURL)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") +
		"/v1/convai/conversation/get-signed-url?agent_id=" + url.QueryEscape(c.cfg.AgentID)
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	err := c.retry.Do(ctx, func() error {
		return c.getJSON(ctx, endpoint, &out)
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonAgentSignedURL)
	}
	if out.SignedURL == "" {
		return "", errorsx.Wrap(errors.New("empty signed url"), errorsx.ReasonAgentSignedURL)
	}
	return out.SignedURL, nil
}

// Dial opens the conversational socket at the signed URL.
func (c *Client) Dial(ctx context.Context, signedURL string) (*websocket.Conn, error) {
	if signedURL == "" {
		return nil, errorsx.Wrap(errors.New("missing signed url"), errorsx.ReasonAgentConnect)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.DialTimeout,
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("xi-api-key", c.cfg.APIKey)
	}
	conn, resp, err := dialer.DialContext(ctx, signedURL, header)
	if err != nil {
		if resp != nil {
			return nil, errorsx.Wrap(fmt.Errorf("dial agent: %s: %w", resp.Status, err), errorsx.ReasonAgentConnect)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonAgentConnect)
	}
	return conn, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("xi-api-key", c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
