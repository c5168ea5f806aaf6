package xclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/metrics"
	"github.com/JakeFAU/tech-intel-harvester/internal/policy/ratelimit"
)

// Config carries credentials and endpoint overrides.
type Config struct {
	// AuthToken and CT0 are browser cookies. When both are set they win
	// over the session file and are written back to it.
	AuthToken   string
	CT0         string
	SessionFile string
	UserAgent   string
	// BaseURL overrides the GraphQL root, mainly for tests.
	BaseURL string
}

// Option customises a Client.
type Option func(*Client)

// WithLimiter paces every call on a per-operation bucket.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the X GraphQL web API. It implements harvest.Source.
type Client struct {
	cfg       Config
	transport Transport
	limiter   *ratelimit.Limiter
	logger    *zap.Logger

	mu        sync.RWMutex
	session   Session
	connected bool
}

var _ harvest.Source = (*Client)(nil)

// New builds an unconnected client.
func New(cfg Config, transport Transport, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = graphqlBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect authenticates from configured cookies, falling back to the saved
// session file.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cookies := Session{
		AuthToken: strings.TrimSpace(c.cfg.AuthToken),
		CT0:       strings.TrimSpace(c.cfg.CT0),
	}
	if cookies.Valid() {
		if c.cfg.SessionFile != "" {
			if err := SaveSession(c.cfg.SessionFile, cookies); err != nil {
				c.logger.Warn("failed to persist session", zap.String("path", c.cfg.SessionFile), zap.Error(err))
			}
		}
		c.setSession(cookies)
		c.logger.Info("authenticated with browser cookies")
		return nil
	}

	if c.cfg.SessionFile != "" {
		saved, err := LoadSession(c.cfg.SessionFile)
		switch {
		case err == nil:
			c.setSession(saved)
			c.logger.Info("loaded saved session", zap.String("path", c.cfg.SessionFile))
			return nil
		case !isNotExist(err):
			c.logger.Warn("saved session unusable", zap.String("path", c.cfg.SessionFile), zap.Error(err))
		}
	}
	return ErrNotAuthenticated
}

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.connected = true
}

// Connected reports whether Connect succeeded.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ResolveIdentity looks up a handle's numeric id, display name and
// follower count.
func (c *Client) ResolveIdentity(ctx context.Context, handle string) (harvest.Identity, error) {
	body, err := c.get(ctx, OpUserByScreenName, map[string]any{
		"screen_name":              strings.TrimPrefix(handle, "@"),
		"withSafetyModeUserFields": true,
	})
	if err != nil {
		return harvest.Identity{}, err
	}
	id, err := parseUser(body)
	if err != nil {
		return harvest.Identity{}, fmt.Errorf("%s: %w", OpUserByScreenName, err)
	}
	return id, nil
}

// FetchActivity returns up to count of the account's most recent posts.
func (c *Client) FetchActivity(ctx context.Context, userID string, count int) ([]harvest.RawItem, error) {
	body, err := c.get(ctx, OpUserTweets, map[string]any{
		"userId":                                 userID,
		"count":                                  count,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	})
	if err != nil {
		return nil, err
	}
	return parseTweets(body, count)
}

func (c *Client) get(ctx context.Context, operation string, variables map[string]any) ([]byte, error) {
	c.mu.RLock()
	session, connected := c.session, c.connected
	c.mu.RUnlock()
	if !connected {
		return nil, ErrNotAuthenticated
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, operation); err != nil {
			return nil, err
		}
	}

	target, err := graphqlURL(c.cfg.BaseURL, operation, variables)
	if err != nil {
		return nil, err
	}
	body, status, err := c.transport.Do(ctx, http.MethodGet, target, requestHeaders(session, c.cfg.UserAgent))
	metrics.ObserveUpstream(operation, status)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if status != http.StatusOK {
		se := &StatusError{Operation: operation, Code: status, Body: truncate(body, 200)}
		if se.RateLimited() {
			c.penalize(operation)
		}
		return nil, se
	}
	if apiErr := apiError(operation, body); apiErr != nil {
		if apiErr.Code == codeRateLimit {
			c.penalize(operation)
		}
		if apiErr.Code == codeAuthExpired {
			c.logger.Warn("session rejected, refresh x.auth_token and x.ct0", zap.String("operation", operation))
		}
		return nil, apiErr
	}
	return body, nil
}

func (c *Client) penalize(operation string) {
	if c.limiter != nil {
		c.limiter.Penalize(operation)
	}
}
