package opencode

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AuthScheme selects how credentials are sent.
type AuthScheme int

const (
	AuthNone AuthScheme = iota
	AuthBasic
	AuthBearer
)

// Credentials authenticate every request made by a Client.
type Credentials struct {
	Scheme   AuthScheme
	Username string
	Password string
	Token    string
}

// ParseCredentials interprets a project auth token. "Basic <b64>" and
// "user:password" select HTTP basic auth; "Bearer <tok>" or any other
// non-empty value is sent as a bearer token.
func ParseCredentials(token string) Credentials {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credentials{Scheme: AuthNone}
	}

	scheme, rest, found := strings.Cut(token, " ")
	if found {
		switch strings.ToLower(scheme) {
		case "bearer":
			return Credentials{Scheme: AuthBearer, Token: strings.TrimSpace(rest)}
		case "basic":
			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
			if err == nil {
				if user, pass, ok := strings.Cut(string(raw), ":"); ok {
					return Credentials{Scheme: AuthBasic, Username: user, Password: pass}
				}
			}
		}
	}

	if user, pass, ok := strings.Cut(token, ":"); ok && !strings.ContainsAny(user, " /") {
		return Credentials{Scheme: AuthBasic, Username: user, Password: pass}
	}
	return Credentials{Scheme: AuthBearer, Token: token}
}

func (c Credentials) apply(req *http.Request) {
	switch c.Scheme {
	case AuthBasic:
		req.SetBasicAuth(c.Username, c.Password)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case AuthNone:
	}
}

// APIError is returned when the server answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, body)
}

// Client talks to one opencode server. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	creds      Credentials
	httpClient *http.Client
	// streamClient has no overall timeout; the event stream is long lived.
	streamClient *http.Client
	log          zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStreamHTTPClient replaces the client used for the event stream.
func WithStreamHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.streamClient = hc }
}

// WithLogger sets the logger used by the client and its streams.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:      u,
		creds:        creds,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.creds.apply(req)
	return req, nil
}

// do sends the request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	c.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// ListSessions returns every session on the server.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, c.endpoint("session"), nil, &sessions); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession starts a new, empty session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, c.endpoint("session"), struct{}{}, &s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, c.endpoint("session", sessionID), nil, nil); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// Messages returns the full transcript of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, c.endpoint("session", sessionID, "message"), nil, &msgs); err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", sessionID, err)
	}
	return msgs, nil
}

// Chat sends a user message. The assistant's reply is not returned here; it
// arrives through the event stream.
func (c *Client) Chat(ctx context.Context, sessionID, providerID, modelID, text string) error {
	body := ChatRequest{
		ProviderID: providerID,
		ModelID:    modelID,
		Parts:      []TextPartInput{{Type: string(PartText), Text: text}},
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("session", sessionID, "message"), body, nil); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// RespondPermission answers a pending permission with "once", "always" or
// "reject".
func (c *Client) RespondPermission(ctx context.Context, sessionID, permissionID, response string) error {
	body := struct {
		Response string `json:"response"`
	}{Response: response}
	endpoint := c.endpoint("session", sessionID, "permissions", permissionID)
	if err := c.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("responding to permission %s: %w", permissionID, err)
	}
	return nil
}

// Providers lists configured providers and the server's default models.
func (c *Client) Providers(ctx context.Context) (*ProvidersResponse, error) {
	var out ProvidersResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("config", "providers"), nil, &out); err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}
	return &out, nil
}

// App fetches server info; used as a connectivity check.
func (c *Client) App(ctx context.Context) (*AppInfo, error) {
	var info AppInfo
	if err := c.do(ctx, http.MethodGet, c.endpoint("app"), nil, &info); err != nil {
		return nil, fmt.Errorf("checking server: %w", err)
	}
	return &info, nil
}

// DefaultModel picks the model to chat with. Explicit ids win; otherwise the
// server default for the first provider that has one is used.
func DefaultModel(p *ProvidersResponse, providerID, modelID string) (string, string, bool) {
	if providerID != "" && modelID != "" {
		return providerID, modelID, true
	}
	if p == nil {
		return "", "", false
	}
	if providerID != "" {
		if m, ok := p.Default[providerID]; ok {
			return providerID, m, true
		}
		return "", "", false
	}
	for _, prov := range p.Providers {
		if m, ok := p.Default[prov.ID]; ok {
			return prov.ID, m, true
		}
	}
	return "", "", false
}
