package tech

import (
	"net/http"
	"sync"
	"time"

	"github.com/techbridge/techbridge/pkg/common"
	"github.com/techbridge/techbridge/pkg/types"
)

const (
	// DefaultBaseURL is the eModul cloud API.
	DefaultBaseURL = "https://emodul.eu/api/v1/"
	// DefaultUpdateInterval is how long cached module data is considered fresh.
	DefaultUpdateInterval = time.Minute
)

// Client talks to the eModul API on behalf of one account. It holds the
// session and a cache of zones and tiles per module. A Client is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	interval   time.Duration
	now        func() time.Time

	// authMu serializes login exchanges, mu guards the session fields
	authMu        sync.Mutex
	mu            sync.RWMutex
	session       types.Session
	authenticated bool

	modulesMu sync.Mutex
	modules   map[string]*moduleCache
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUpdateInterval sets how long cached module data stays fresh.
func WithUpdateInterval(d time.Duration) Option {
	return func(c *Client) {
		c.interval = d
	}
}

// WithClock overrides the time source used for cache staleness.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithSession restores a previously stored session, skipping the login
// exchange. An incomplete session leaves the client unauthenticated.
func WithSession(s types.Session) Option {
	return func(c *Client) {
		c.setSession(s, s.Valid())
	}
}

// New returns a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: common.HTTPClient(time.Minute),
		baseURL:    DefaultBaseURL,
		interval:   DefaultUpdateInterval,
		now:        time.Now,
		modules:    make(map[string]*moduleCache),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UpdateInterval returns the cache staleness interval.
func (c *Client) UpdateInterval() time.Duration {
	return c.interval
}
