package graph

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})

	c, err := NewClient("http://graph.test/subgraphs/name/ledger", ClientConfig{
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
		Headers:       map[string]string{"Authorization": "Bearer key"},
		HTTPClient: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient("graph.test", ClientConfig{})
	assert.Error(t, err)
}

func TestClientQuery(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, fasthttp.MethodPost, string(ctx.Method()))
		assert.Equal(t, "Bearer key", string(ctx.Request.Header.Peek("Authorization")))

		var body requestBody
		require.NoError(t, json.Unmarshal(ctx.PostBody(), &body))
		assert.Equal(t, "query Q { userBalances { id } }", body.Query)
		assert.Equal(t, float64(42), body.Variables["block"])

		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"data":{"userBalances":[{"id":"0x1","balance":"5"}]}}`)
	})

	data, err := c.Query(context.Background(), "query Q { userBalances { id } }", map[string]any{"block": 42})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"0x1","balance":"5"}]`, string(data["userBalances"]))
}

func TestClientGraphErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"errors":[{"message":"block not yet indexed"}]}`)
	})

	_, err := c.Query(context.Background(), "q", nil)
	require.Error(t, err)
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Contains(t, qerr.Error(), "block not yet indexed")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"data":{"x":[]}}`)
	})

	data, err := c.Query(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Contains(t, data, "x")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})

	_, err := c.Query(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientMissingData(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{}`)
	})
	_, err := c.Query(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestClientCanceledContext(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"data":{}}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Query(ctx, "q", nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClientWithPager(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		var body requestBody
		require.NoError(t, json.Unmarshal(ctx.PostBody(), &body))
		ctx.SetContentType("application/json")
		if body.Variables["lastId"] == InitialCursor {
			ctx.SetBodyString(`{"data":{"userBalances":[{"id":"0x01","balance":"1"},{"id":"0x02","balance":"2"}]}}`)
			return
		}
		ctx.SetBodyString(`{"data":{"userBalances":[{"id":"0x03","balance":"3"}]}}`)
	})

	got, err := FetchAll[entry](context.Background(), c, Request{Query: "q", Collection: "userBalances", PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
