// Package nextpay is a client for the NextPay.org payment gateway HTTP API.
//
// A Client is bound to one purchase identity (api key, amount, callback URI)
// and exposes the three gateway operations: Purchase opens a payment session
// and returns a transaction id, Verify settles it, and Refund reverses it.
// Every gateway response code is mapped to a typed error; see errors.go.
package nextpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultBaseURL is the production gateway host.
	DefaultBaseURL = "https://nextpay.org"
	// DefaultUserAgent is sent on every request. Some gateway deployments
	// filter requests by user agent, so it is always present.
	DefaultUserAgent = "PostmanRuntime/7.26.8"

	tokenPath   = "/nx/gateway/token"
	verifyPath  = "/nx/gateway/verify"
	paymentPath = "/nx/gateway/payment/"
)

// Doer executes a single HTTP exchange. The default implementation opens a
// short-lived connection per call; callers who want retry, timeout or
// circuit-breaker policy can plug in resilience.HTTPClient or their own.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the NextPay gateway on behalf of one purchase identity.
// The identity is fixed at construction; all methods are safe for concurrent
// use since no call mutates client state.
type Client struct {
	token       string
	amount      int64
	callbackURI string

	baseURL   string
	userAgent string
	doer      Doer
	logger    zerolog.Logger
}

// Option customises a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the gateway host, e.g. for a sandbox or a test server.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(ua); trimmed != "" {
			c.userAgent = trimmed
		}
	}
}

// WithHTTPDoer replaces the transport used for gateway calls.
func WithHTTPDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithHTTPClient runs gateway calls through the provided http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.doer = plainDoer{client: hc}
		}
	}
}

// WithLogger attaches a structured logger. Without it the client is silent.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New binds a client to a gateway token, a purchase amount and the callback
// URI the gateway redirects to after payment. No I/O and no validation
// happen here; a bad token or callback surfaces as a gateway error on the
// first call.
func New(token string, amount int64, callbackURI string, opts ...Option) *Client {
	c := &Client{
		token:       token,
		amount:      amount,
		callbackURI: callbackURI,
		baseURL:     DefaultBaseURL,
		userAgent:   DefaultUserAgent,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = plainDoer{client: newShortLivedClient()}
	}
	return c
}

// Purchase opens a payment session for orderID and returns the gateway
// transaction id. Extension fields outside the allowed set fail with
// ErrInvalidExtensionKey before any request is made.
func (c *Client) Purchase(ctx context.Context, orderID string, ext Extensions) (string, error) {
	if err := ext.validate(); err != nil {
		return "", err
	}

	f := newForm()
	f.add("api_key", c.token)
	f.add("amount", strconv.FormatInt(c.amount, 10))
	f.add("order_id", orderID)
	ext.appendTo(f)
	f.add("callback_uri", c.callbackURI)

	resp, err := c.post(ctx, "purchase", tokenPath, f)
	if err != nil {
		return "", err
	}
	if resp.code == codePurchaseOK {
		if resp.transID == "" {
			return "", fmt.Errorf("nextpay: purchase succeeded but response carries no trans_id")
		}
		return resp.transID, nil
	}
	return "", classifyPurchase(resp.code, c.token)
}

// Verify settles the purchase identified by transID. A currency outside
// {IRT, IRR} is dropped from the request rather than rejected, mirroring the
// gateway's own leniency.
func (c *Client) Verify(ctx context.Context, transID string, currency string) (bool, error) {
	f := verifyForm(c.token, c.amount, transID)
	if isKnownCurrency(currency) {
		f.add("currency", currency)
	}

	resp, err := c.post(ctx, "verify", verifyPath, f)
	if err != nil {
		return false, err
	}
	if resp.code == codeVerifyOK {
		return true, nil
	}
	return false, classifyVerify(resp.code)
}

// Refund reverses the purchase identified by transID. The gateway reuses the
// verify endpoint for refunds, distinguished only by the refund_request
// field, so the request body is a verify body plus that one field.
func (c *Client) Refund(ctx context.Context, transID string) (bool, error) {
	f := verifyForm(c.token, c.amount, transID)
	f.add("refund_request", "yes_money_back")

	resp, err := c.post(ctx, "refund", verifyPath, f)
	if err != nil {
		return false, err
	}
	if resp.code == codeRefundOK {
		return true, nil
	}
	return false, classifyRefund(resp.code)
}

// PaymentURL returns the hosted payment page for a transaction id obtained
// from Purchase. The caller redirects the payer there.
func (c *Client) PaymentURL(transID string) string {
	return c.baseURL + paymentPath + transID
}

func verifyForm(token string, amount int64, transID string) *form {
	f := newForm()
	f.add("api_key", token)
	f.add("amount", strconv.FormatInt(amount, 10))
	f.add("trans_id", transID)
	return f
}

type gatewayResponse struct {
	code    int64
	transID string
}

// post runs one request/response exchange against the gateway and decodes
// the response envelope. The response body is closed on every path.
func (c *Client) post(ctx context.Context, op, path string, f *form) (gatewayResponse, error) {
	ctx, span := otel.Tracer("nextpay.Client").Start(ctx, "Client."+op)
	defer span.End()

	body := f.encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("nextpay: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	httpResp, err := c.doer.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		c.logRoundTrip(op, path, 0, nil, time.Since(start), "transport_error")
		return gatewayResponse{}, fmt.Errorf("nextpay: %s request failed: %w", op, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := decodeResponse(httpResp.Body)
	if err != nil {
		span.RecordError(err)
		c.logRoundTrip(op, path, httpResp.StatusCode, nil, time.Since(start), "decode_error")
		return gatewayResponse{}, fmt.Errorf("nextpay: decode %s response: %w", op, err)
	}

	span.SetAttributes(attribute.Int64("nextpay.code", resp.code))
	c.logRoundTrip(op, path, httpResp.StatusCode, &resp.code, time.Since(start), "ok")
	return resp, nil
}

func decodeResponse(r io.Reader) (gatewayResponse, error) {
	var payload struct {
		Code    json.Number `json:"code"`
		TransID string      `json:"trans_id"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return gatewayResponse{}, err
	}
	code, err := payload.Code.Int64()
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("non-integer code %q", payload.Code.String())
	}
	return gatewayResponse{code: code, transID: payload.TransID}, nil
}

func (c *Client) logRoundTrip(op, path string, status int, code *int64, elapsed time.Duration, outcome string) {
	evt := c.logger.Info()
	if outcome != "ok" {
		evt = c.logger.Warn()
	}
	evt = evt.
		Str("outcome", outcome).
		Str("op", op).
		Str("path", path).
		Int("status", status).
		Int64("duration_ms", elapsed.Milliseconds())
	if code != nil {
		evt = evt.Int64("code", *code)
	}
	evt.Msg("gateway_request")
}

type plainDoer struct {
	client *http.Client
}

func (d plainDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(ctx))
}

// newShortLivedClient builds the default transport: keep-alives disabled so
// every call opens and tears down its own connection, and outbound requests
// traced via otelhttp.
func newShortLivedClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(&http.Transport{DisableKeepAlives: true}),
	}
}
