package web3

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCall struct {
	Method string
	Params []any
}

/*
In-memory "Trans" for tests. Results of handlers go through a JSON round trip,
like responses of a real node.
*/
type fakeTrans struct {
	lock      sync.Mutex
	handlers  map[string]func(params []any) (any, error)
	calls     []fakeCall
	subscribe func(ctx context.Context, out chan []byte, params ...any) error
}

func newFakeTrans() *fakeTrans {
	return &fakeTrans{handlers: map[string]func([]any) (any, error){}}
}

func (self *fakeTrans) on(method string, fun func(params []any) (any, error)) *fakeTrans {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.handlers[method] = fun
	return self
}

func (self *fakeTrans) returns(method string, result any) *fakeTrans {
	return self.on(method, func([]any) (any, error) { return result, nil })
}

func (self *fakeTrans) Call(_ context.Context, out any, method string, params ...any) error {
	self.lock.Lock()
	self.calls = append(self.calls, fakeCall{method, params})
	handler := self.handlers[method]
	self.lock.Unlock()

	if handler == nil {
		return errors.WithStack(&RpcError{Code: -32601, Message: "method not found: " + method})
	}

	res, err := handler(params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (self *fakeTrans) Subscribe(ctx context.Context, out chan []byte, params ...any) error {
	if self.subscribe == nil {
		close(out)
		return errors.New("subscriptions not supported")
	}
	return self.subscribe(ctx, out, params...)
}

func (self *fakeTrans) Connected() chan struct{} { return alwaysConnected }

func (self *fakeTrans) count(method string) int {
	self.lock.Lock()
	defer self.lock.Unlock()

	var out int
	for _, call := range self.calls {
		if call.Method == method {
			out++
		}
	}
	return out
}

// Re-encodes a call parameter into the given type.
func decodeParam[T any](t *testing.T, param any) T {
	t.Helper()
	body, err := json.Marshal(param)
	require.NoError(t, err)

	var out T
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

type rpcTestRequest struct {
	Id     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func rpcServer(t *testing.T, fun func(req rpcTestRequest) (int, any)) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		var body rpcTestRequest
		if !assert.NoError(t, json.NewDecoder(req.Body).Decode(&body)) {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}

		status, res := fun(body)
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		_ = json.NewEncoder(rw).Encode(res)
	}))
	t.Cleanup(server.Close)
	return server
}

func rpcResult(id uint64, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

func testHttpTrans(url string) *HttpTrans {
	out := NewHttpTrans(url)
	out.RetryDelay = time.Millisecond
	return out
}

func TestHttpTrans_call(t *testing.T) {
	server := rpcServer(t, func(req rpcTestRequest) (int, any) {
		assert.Equal(t, "eth_blockNumber", req.Method)
		assert.Empty(t, req.Params)
		return http.StatusOK, rpcResult(req.Id, "0x1b4")
	})

	num, err := EthBlockNumber(context.Background(), testHttpTrans(server.URL))
	require.NoError(t, err)
	assert.Equal(t, uint64(436), num)
}

func TestHttpTrans_rpc_error_not_retried(t *testing.T) {
	var attempts atomic.Int32
	server := rpcServer(t, func(req rpcTestRequest) (int, any) {
		attempts.Add(1)
		return http.StatusOK, map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Id,
			"error":   map[string]any{"code": -32000, "message": "execution reverted"},
		}
	})

	_, err := EthChainId(context.Background(), testHttpTrans(server.URL))
	require.Error(t, err)

	var rpcErr *RpcError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(-32000), rpcErr.Code)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHttpTrans_retries_server_errors(t *testing.T) {
	var attempts atomic.Int32
	server := rpcServer(t, func(req rpcTestRequest) (int, any) {
		if attempts.Add(1) < 3 {
			return http.StatusBadGateway, "upstream unavailable"
		}
		return http.StatusOK, rpcResult(req.Id, "0x1")
	})

	trans := testHttpTrans(server.URL)
	trans.Retries = 2

	id, err := EthChainId(context.Background(), trans)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHttpTrans_gives_up_after_retries(t *testing.T) {
	var attempts atomic.Int32
	server := rpcServer(t, func(rpcTestRequest) (int, any) {
		attempts.Add(1)
		return http.StatusServiceUnavailable, "down"
	})

	trans := testHttpTrans(server.URL)
	trans.Retries = 1

	_, err := EthChainId(context.Background(), trans)
	var statusErr *HttpStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestHttpTrans_rate_limit_not_retried(t *testing.T) {
	var attempts atomic.Int32
	server := rpcServer(t, func(rpcTestRequest) (int, any) {
		attempts.Add(1)
		return http.StatusTooManyRequests, "slow down"
	})

	_, err := EthBlockNumber(context.Background(), testHttpTrans(server.URL))
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHttpTrans_undecodable_body(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write([]byte(`<html>gateway</html>`))
	}))
	t.Cleanup(server.Close)

	trans := testHttpTrans(server.URL)
	trans.Retries = 0

	_, err := EthBlockNumber(context.Background(), trans)
	var decodeErr *RpcDecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "eth_blockNumber", decodeErr.Method)
}

func TestHttpTrans_subscribe_unsupported(t *testing.T) {
	out := make(chan []byte)
	err := NewHttpTrans("http://localhost").Subscribe(context.Background(), out, "newHeads")
	var contractual *ContractualError
	require.ErrorAs(t, err, &contractual)

	_, open := <-out
	assert.False(t, open)
}

func TestRedactUrl(t *testing.T) {
	assert.Equal(t, "https://eth-mainnet.g.alchemy.com", redactUrl("https://eth-mainnet.g.alchemy.com/v2/secret"))
	assert.Equal(t, "<invalid url>", redactUrl("not a url"))
}
