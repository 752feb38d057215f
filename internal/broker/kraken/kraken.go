// Package kraken implements broker.Exchange over the Kraken spot REST API.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/core"
	"go.uber.org/zap"
)

const (
	baseURL        = "https://api.kraken.com"
	defaultTimeout = 30 * time.Second
)

// Config holds the API credentials and endpoint
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string // base64, as issued by Kraken
	Timeout   time.Duration
}

// Client implements broker.Exchange for Kraken
type Client struct {
	http   *resty.Client
	key    string
	secret []byte
	nonce  *nonceSource
	logger *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the nonce time source
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.nonce.now = now
		}
	}
}

// New creates a client. Credentials may be empty for market data only use.
func New(cfg Config, opts ...Option) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("kraken: api secret is not base64: %w", err))
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", "krakenbot")

	c := &Client{
		http:   client,
		key:    cfg.APIKey,
		secret: secret,
		nonce:  &nonceSource{now: time.Now},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Pair converts a "BASE/QUOTE" symbol to the Kraken pair name
func Pair(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// nonceSource yields strictly increasing millisecond nonces
type nonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (n *nonceSource) next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.now().UnixMilli()
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	return v
}

// sign computes API-Sign: HMAC-SHA512 of path + SHA256(nonce + body)
func sign(path, nonce, body string, secret []byte) string {
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// envelope is the shape of every Kraken response
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// errNoAnswer marks a request that failed before Kraken gave a verdict
var errNoAnswer = errors.New("no answer from kraken")

var transientErrors = []string{
	"EAPI:Rate limit",
	"EOrder:Rate limit",
	"EService:Unavailable",
	"EService:Busy",
	"EGeneral:Temporary lockout",
}

// mapError converts Kraken error strings to broker errors under code
func mapError(code *core.Error, messages []string) error {
	msg := strings.Join(messages, "; ")
	switch {
	case strings.Contains(msg, "EOrder:Insufficient funds"):
		return core.WrapError(code, fmt.Errorf("kraken: %w: %s", broker.ErrInsufficientFunds, msg))
	case strings.Contains(msg, "EOrder:Unknown order"):
		return core.WrapError(code, fmt.Errorf("kraken: %w: %s", broker.ErrOrderNotFound, msg))
	}
	for _, t := range transientErrors {
		if strings.Contains(msg, t) {
			return core.WrapError(code, fmt.Errorf("kraken: %w: %s", broker.ErrTransient, msg))
		}
	}
	return core.WrapError(code, fmt.Errorf("kraken: %s", msg))
}

// decode checks transport and API errors and unmarshals the result into out
func decode(code *core.Error, resp *resty.Response, err error, out any) error {
	if err != nil {
		return core.WrapError(code, fmt.Errorf("kraken: %w: %w: %v", broker.ErrTransient, errNoAnswer, err))
	}

	status := resp.StatusCode()
	if status == http.StatusTooManyRequests {
		return core.WrapError(code, fmt.Errorf("kraken: %w: status %d", broker.ErrTransient, status))
	}
	if status >= http.StatusInternalServerError {
		return core.WrapError(code, fmt.Errorf("kraken: %w: %w: status %d", broker.ErrTransient, errNoAnswer, status))
	}
	if status != http.StatusOK {
		return core.WrapError(code, fmt.Errorf("kraken: unexpected status %d: %s", status, resp.String()))
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return core.WrapError(code, fmt.Errorf("kraken: decoding response: %w", err))
	}
	if len(env.Error) > 0 {
		return mapError(code, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return core.WrapError(code, fmt.Errorf("kraken: decoding result: %w", err))
	}
	return nil
}

func (c *Client) public(ctx context.Context, code *core.Error, method string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/0/public/" + method)
	return decode(code, resp, err, out)
}

func (c *Client) private(ctx context.Context, code *core.Error, method string, params url.Values, out any) error {
	if c.key == "" || len(c.secret) == 0 {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("kraken: api key and secret are required for %s", method))
	}

	if params == nil {
		params = url.Values{}
	}
	nonce := strconv.FormatInt(c.nonce.next(), 10)
	params.Set("nonce", nonce)
	body := params.Encode()
	path := "/0/private/" + method

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("API-Key", c.key).
		SetHeader("API-Sign", sign(path, nonce, body, c.secret)).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		Post(path)
	err = decode(code, resp, err, out)
	if err != nil {
		c.logger.Debug("kraken private call failed", zap.String("method", method), zap.Error(err))
	}
	return err
}

var _ broker.Exchange = (*Client)(nil)
