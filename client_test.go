package nextpay_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/nextpay-go"
	"github.com/noah-isme/nextpay-go/resilience"
)

type recordedRequest struct {
	path   string
	header http.Header
	body   string
}

type stubGateway struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(r *http.Request) string
	server   *httptest.Server
}

func newStubGateway(t *testing.T, respond func(r *http.Request) string) *stubGateway {
	t.Helper()
	g := &stubGateway{respond: respond}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.requests = append(g.requests, recordedRequest{path: r.URL.Path, header: r.Header.Clone(), body: string(body)})
		g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(g.respond(r)))
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *stubGateway) client(opts ...nextpay.Option) *nextpay.Client {
	opts = append([]nextpay.Option{nextpay.WithBaseURL(g.server.URL)}, opts...)
	return nextpay.New("token-123", 50_000, "https://shop.example/callback", opts...)
}

func (g *stubGateway) recorded() []recordedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]recordedRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

func codeResponse(code int64) func(*http.Request) string {
	return func(*http.Request) string {
		return fmt.Sprintf(`{"code": %d}`, code)
	}
}

func TestPurchaseSuccess(t *testing.T) {
	gw := newStubGateway(t, func(*http.Request) string {
		return `{"code": -1, "trans_id": "abc123"}`
	})
	client := gw.client()

	transID, err := client.Purchase(context.Background(), "order-1", nil)
	require.NoError(t, err)
	require.Equal(t, "abc123", transID)

	reqs := gw.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "/nx/gateway/token", reqs[0].path)
}

func TestPurchaseWireFormat(t *testing.T) {
	gw := newStubGateway(t, func(*http.Request) string {
		return `{"code": -1, "trans_id": "t"}`
	})
	client := gw.client()

	orderID := uuid.NewString()
	_, err := client.Purchase(context.Background(), orderID, nextpay.Extensions{
		"phone":    "09120000000",
		"currency": "IRT",
	})
	require.NoError(t, err)

	reqs := gw.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "application/x-www-form-urlencoded", reqs[0].header.Get("Content-Type"))
	require.Equal(t, nextpay.DefaultUserAgent, reqs[0].header.Get("User-Agent"))

	fields, err := url.ParseQuery(reqs[0].body)
	require.NoError(t, err)
	require.Equal(t, "token-123", fields.Get("api_key"))
	require.Equal(t, "50000", fields.Get("amount"))
	require.Equal(t, orderID, fields.Get("order_id"))
	require.Equal(t, "https://shop.example/callback", fields.Get("callback_uri"))
	require.Equal(t, "IRT", fields.Get("currency"))
	require.Equal(t, "09120000000", fields.Get("phone"))

	// callback_uri is the last field on the wire
	require.Regexp(t, `callback_uri=[^&]*$`, reqs[0].body)
}

func TestPurchaseRejectsUnknownExtensionKey(t *testing.T) {
	gw := newStubGateway(t, codeResponse(-1))
	client := gw.client()

	_, err := client.Purchase(context.Background(), "order-1", nextpay.Extensions{
		"currency": "IRT",
		"discount": "10",
	})
	require.ErrorIs(t, err, nextpay.ErrInvalidExtensionKey)

	var keyErr *nextpay.ExtensionKeyError
	require.ErrorAs(t, err, &keyErr)
	require.Equal(t, "discount", keyErr.Key)

	require.Empty(t, gw.recorded(), "validation failure must not reach the network")
}

func TestPurchaseSuccessWithoutTransID(t *testing.T) {
	gw := newStubGateway(t, func(*http.Request) string {
		return `{"code": -1}`
	})
	client := gw.client()

	transID, err := client.Purchase(context.Background(), "order-1", nil)
	require.Error(t, err, "a success code without a trans_id is unusable and must not pass as success")
	require.Empty(t, transID)
	require.Contains(t, err.Error(), "trans_id")

	var gwErr *nextpay.GatewayError
	require.False(t, errors.As(err, &gwErr), "a broken success envelope is a protocol fault, not a gateway outcome")
}

func TestPurchaseCodeClassification(t *testing.T) {
	cases := []struct {
		code int64
		want error
	}{
		{-32, nextpay.ErrInvalidCallbackURI},
		{-73, nextpay.ErrInvalidCallbackURI},
		{-33, nextpay.ErrInvalidToken},
		{-35, nextpay.ErrInvalidToken},
		{-38, nextpay.ErrInvalidToken},
		{-39, nextpay.ErrInvalidToken},
		{-40, nextpay.ErrInvalidToken},
		{-47, nextpay.ErrInvalidToken},
		{-999, nextpay.ErrUnhandledCode},
		{2, nextpay.ErrUnhandledCode},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("code_%d", tc.code), func(t *testing.T) {
			gw := newStubGateway(t, codeResponse(tc.code))
			client := gw.client()

			_, err := client.Purchase(context.Background(), "order-1", nil)
			require.ErrorIs(t, err, tc.want)

			var gwErr *nextpay.GatewayError
			require.ErrorAs(t, err, &gwErr)
			require.Equal(t, tc.code, gwErr.Code)
		})
	}
}

func TestPurchaseInvalidTokenMessage(t *testing.T) {
	gw := newStubGateway(t, codeResponse(-39))
	client := gw.client()

	_, err := client.Purchase(context.Background(), "order-1", nil)
	require.ErrorIs(t, err, nextpay.ErrInvalidToken)
	require.Contains(t, err.Error(), "token-123")
	require.Contains(t, err.Error(), "-39")
}

func TestVerifySuccess(t *testing.T) {
	gw := newStubGateway(t, codeResponse(0))
	client := gw.client()

	ok, err := client.Verify(context.Background(), "abc123", "IRT")
	require.NoError(t, err)
	require.True(t, ok)

	reqs := gw.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "/nx/gateway/verify", reqs[0].path)

	fields, err := url.ParseQuery(reqs[0].body)
	require.NoError(t, err)
	require.Equal(t, "abc123", fields.Get("trans_id"))
	require.Equal(t, "IRT", fields.Get("currency"))
}

func TestVerifyDropsUnknownCurrency(t *testing.T) {
	gw := newStubGateway(t, codeResponse(0))
	client := gw.client()

	ok, err := client.Verify(context.Background(), "abc123", "USD")
	require.NoError(t, err)
	require.True(t, ok)

	fields, err := url.ParseQuery(gw.recorded()[0].body)
	require.NoError(t, err)
	require.False(t, fields.Has("currency"), "out-of-set currency must be omitted, not rejected")
}

func TestVerifyCodeClassification(t *testing.T) {
	cases := []struct {
		code int64
		want error
	}{
		{-2, nextpay.ErrPurchaseDeclined},
		{-4, nextpay.ErrPurchaseCanceled},
		{-24, nextpay.ErrInvalidPrice},
		{-25, nextpay.ErrPurchaseAlreadyMade},
		{-27, nextpay.ErrInvalidTransID},
		{-90, nextpay.ErrUnhandledCode},
		{7, nextpay.ErrUnhandledCode},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("code_%d", tc.code), func(t *testing.T) {
			gw := newStubGateway(t, codeResponse(tc.code))
			client := gw.client()

			ok, err := client.Verify(context.Background(), "abc123", "")
			require.False(t, ok)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRefundSuccess(t *testing.T) {
	gw := newStubGateway(t, codeResponse(-90))
	client := gw.client()

	ok, err := client.Refund(context.Background(), "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/nx/gateway/verify", gw.recorded()[0].path)
}

func TestRefundCodeClassification(t *testing.T) {
	cases := []struct {
		code int64
		want error
	}{
		{-91, nextpay.ErrRefundFailed},
		{-92, nextpay.ErrRefundFailed},
		{-93, nextpay.ErrNotEnoughBalance},
		{-27, nextpay.ErrInvalidTransID},
		{0, nextpay.ErrUnhandledCode},
		{-1, nextpay.ErrUnhandledCode},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("code_%d", tc.code), func(t *testing.T) {
			gw := newStubGateway(t, codeResponse(tc.code))
			client := gw.client()

			ok, err := client.Refund(context.Background(), "abc123")
			require.False(t, ok)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRefundBodyIsVerifyBodyPlusFlag(t *testing.T) {
	gw := newStubGateway(t, func(r *http.Request) string {
		return `{"code": 0}`
	})
	client := gw.client()

	_, _ = client.Verify(context.Background(), "abc123", "")
	_, _ = client.Refund(context.Background(), "abc123")

	reqs := gw.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, reqs[0].body+"&refund_request=yes_money_back", reqs[1].body)
}

func TestRoundTripLogCarriesOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	gw := newStubGateway(t, codeResponse(0))
	client := gw.client(nextpay.WithLogger(logger))

	ok, err := client.Verify(context.Background(), "abc123", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, buf.String(), `"outcome":"ok"`)
	require.Contains(t, buf.String(), `"level":"info"`)

	buf.Reset()
	unreachable := nextpay.New("token-123", 50_000, "https://shop.example/callback",
		nextpay.WithBaseURL("http://127.0.0.1:0"),
		nextpay.WithLogger(logger),
	)
	_, err = unreachable.Purchase(context.Background(), "order-1", nil)
	require.Error(t, err)
	require.Contains(t, buf.String(), `"outcome":"transport_error"`)
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestPaymentURL(t *testing.T) {
	client := nextpay.New("token-123", 50_000, "https://shop.example/callback")
	require.Equal(t, "https://nextpay.org/nx/gateway/payment/abc123", client.PaymentURL("abc123"))
}

func TestPurchaseContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	client := nextpay.New("token-123", 50_000, "https://shop.example/callback", nextpay.WithBaseURL(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Purchase(ctx, "order-1", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var gwErr *nextpay.GatewayError
	require.False(t, errors.As(err, &gwErr), "transport faults must not masquerade as gateway outcomes")
}

func TestMalformedResponseBody(t *testing.T) {
	gw := newStubGateway(t, func(*http.Request) string { return `not json` })
	client := gw.client()

	_, err := client.Purchase(context.Background(), "order-1", nil)
	require.Error(t, err)

	var gwErr *nextpay.GatewayError
	require.False(t, errors.As(err, &gwErr))
}

func TestClientWithResilientDoer(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code": 0}`))
	}))
	t.Cleanup(srv.Close)

	doer := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(10, 0.9, time.Second).WithTarget("verify-retry"),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
	client := nextpay.New("token-123", 50_000, "https://shop.example/callback",
		nextpay.WithBaseURL(srv.URL),
		nextpay.WithHTTPDoer(doer),
	)

	ok, err := client.Verify(context.Background(), "abc123", "")
	require.NoError(t, err)
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, attempts)
}
