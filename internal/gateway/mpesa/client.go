// Package mpesa implements gateway.Gateway on top of Safaricom's Daraja API:
// STK push for collections, B2C for driver payouts.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/obs"
)

const (
	sandboxURL    = "https://sandbox.safaricom.co.ke"
	productionURL = "https://api.safaricom.co.ke"

	timestampLayout = "20060102150405"
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// Config holds the Daraja credentials and endpoints.
type Config struct {
	Environment string // sandbox or production
	BaseURL     string // overrides Environment when set

	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	Passkey          string
	AccountReference string

	B2CConsumerKey        string
	B2CConsumerSecret     string
	B2CShortCode          string
	B2CInitiatorName      string
	B2CSecurityCredential string

	// CallbackBaseURL is the public address Daraja posts results to.
	CallbackBaseURL string
	// CallbackSecret keys the signature carried by every callback URL.
	CallbackSecret  string

	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// Client talks to Daraja. It is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	signer  CallbackSigner
	log     *zap.Logger
	metrics *obs.Metrics
	now     func() time.Time

	mu     sync.Mutex
	tokens map[gateway.Kind]gateway.Token
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config, logger *zap.Logger, metrics *obs.Metrics) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = sandboxURL
		if cfg.Environment == "production" {
			base = productionURL
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.AccountReference == "" {
		cfg.AccountReference = "MoversPay"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(limit, 5),
		signer:  NewCallbackSigner(cfg.CallbackSecret),
		log:     logger.Named("mpesa"),
		metrics: metrics,
		now:     time.Now,
		tokens:  map[gateway.Kind]gateway.Token{},
	}
}

// APIError is a non-200 answer from Daraja.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa: http %d: %s %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return gateway.ErrAuth
	}
	return gateway.ErrRejected
}

// Authenticate fetches an OAuth token for the credentials of kind. Tokens are
// reused until a minute before they expire.
func (c *Client) Authenticate(ctx context.Context, kind gateway.Kind) (gateway.Token, error) {
	c.mu.Lock()
	tok, ok := c.tokens[kind]
	c.mu.Unlock()
	if ok && c.now().Add(time.Minute).Before(tok.ExpiresAt) {
		return tok, nil
	}

	key, secret := c.cfg.ConsumerKey, c.cfg.ConsumerSecret
	if kind == gateway.KindPayout {
		key, secret = c.cfg.B2CConsumerKey, c.cfg.B2CConsumerSecret
	}
	if key == "" || secret == "" {
		return gateway.Token{}, fmt.Errorf("%w: missing consumer credentials for %s", gateway.ErrAuth, kind)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return gateway.Token{}, fmt.Errorf("%w: %v", gateway.ErrTimeout, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return gateway.Token{}, err
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(key+":"+secret)))

	start := c.now()
	resp, err := c.http.Do(req)
	c.metrics.GatewayRequest("oauth", err, c.now().Sub(start))
	if err != nil {
		if te := asTimeout(err); te != nil {
			return gateway.Token{}, te
		}
		return gateway.Token{}, fmt.Errorf("%w: %v", gateway.ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return gateway.Token{}, fmt.Errorf("%w: http %d: %s", gateway.ErrAuth, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return gateway.Token{}, fmt.Errorf("%w: unreadable token response", gateway.ErrAuth)
	}
	ttl, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	tok = gateway.Token{Value: out.AccessToken, ExpiresAt: c.now().Add(time.Duration(ttl) * time.Second)}

	c.mu.Lock()
	c.tokens[kind] = tok
	c.mu.Unlock()
	return tok, nil
}

// post sends payload to path and decodes a 200 answer into out.
func (c *Client) post(ctx context.Context, op, path, token string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrTimeout, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := c.now()
	resp, err := c.http.Do(req)
	c.metrics.GatewayRequest(op, err, c.now().Sub(start))
	if err != nil {
		if te := asTimeout(err); te != nil {
			return te
		}
		return fmt.Errorf("%w: %v", gateway.ErrRejected, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if te := asTimeout(err); te != nil {
			return te
		}
		return fmt.Errorf("%w: read response: %v", gateway.ErrRejected, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(raw, &e)
		return &APIError{StatusCode: resp.StatusCode, Code: e.ErrorCode, Message: e.ErrorMessage}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", gateway.ErrRejected, op, err)
	}
	return nil
}

func (c *Client) callbackURL(route, ref string) string {
	u := strings.TrimRight(c.cfg.CallbackBaseURL, "/") + "/callbacks/mpesa/" + route + "/" + url.PathEscape(ref)
	if sig := c.signer.Sign(route, ref); sig != "" {
		u += "?sig=" + sig
	}
	return u
}

// VerifyCallback reports whether sig authenticates a callback posted to
// route for the transaction ref.
func (c *Client) VerifyCallback(route, ref, sig string) bool {
	return c.signer.Verify(route, ref, sig)
}

// password is the STK credential for a request made at ts.
func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + ts))
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format(timestampLayout)
}

func asTimeout(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", gateway.ErrTimeout, err)
	}
	return nil
}
