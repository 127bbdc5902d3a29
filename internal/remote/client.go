// ABOUTME: HTTP client for the coven-chatd gateway API
// ABOUTME: Implements the query client, authenticator and token setter the session controller uses

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/query"
	"github.com/2389/coven-chat/internal/session"
)

// Client talks to a coven-chatd gateway.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It must not set a Timeout, which
// would cut live streams short; bound requests with contexts instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "remote")
	return c
}

// SetToken sets the bearer token sent with every API request. An empty
// token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type authRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type authResponse struct {
	User struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	Token string `json:"token"`
}

func (r authResponse) session() *chat.Session {
	return &chat.Session{
		User: chat.User{
			ID:    r.User.ID,
			Name:  r.User.Name,
			Email: r.User.Email,
		},
		Token: r.Token,
	}
}

// Login exchanges credentials for a session. The token is not installed;
// the session controller does that through SetToken.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (*chat.Session, error) {
	var resp authResponse
	req := authRequest{Email: creds.Email, Password: creds.Password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return resp.session(), nil
}

// Signup creates an account and returns its first session.
func (c *Client) Signup(ctx context.Context, email, name, password string) (*chat.Session, error) {
	var resp authResponse
	req := authRequest{Email: email, Name: name, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	return resp.session(), nil
}

type queryRequest struct {
	Collection string        `json:"collection"`
	Filter     *query.Filter `json:"filter,omitempty"`
}

type queryResponse struct {
	Records []query.Record `json:"records"`
}

// Fetch performs a one-shot query.
func (c *Client) Fetch(ctx context.Context, collection string, filter *query.Filter) ([]query.Record, error) {
	if err := query.ValidateCollection(collection); err != nil {
		return nil, err
	}
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/api/query", queryRequest{Collection: collection, Filter: filter}, &resp); err != nil {
		return nil, err
	}
	if resp.Records == nil {
		resp.Records = []query.Record{}
	}
	return resp.Records, nil
}

type writeRequest struct {
	Collection string       `json:"collection"`
	Record     query.Record `json:"record"`
}

// Write inserts or replaces a record.
func (c *Client) Write(ctx context.Context, collection string, record query.Record) (query.WriteResult, error) {
	if err := query.ValidateCollection(collection); err != nil {
		return query.WriteResult{}, err
	}
	var res query.WriteResult
	if err := c.do(ctx, http.MethodPost, "/api/write", writeRequest{Collection: collection, Record: record}, &res); err != nil {
		return query.WriteResult{}, err
	}
	return res, nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// handleErrorResponse extracts the error message from a non-2xx response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

var (
	_ query.Client          = (*Client)(nil)
	_ session.Authenticator = (*Client)(nil)
	_ session.TokenSetter   = (*Client)(nil)
)
