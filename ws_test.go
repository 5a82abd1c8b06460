package web3

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server side of a test websocket connection.
type wsTestPeer struct {
	conn *websocket.Conn
	lock sync.Mutex
}

func (self *wsTestPeer) read() (rpcTestRequest, bool) {
	var out rpcTestRequest
	err := self.conn.ReadJSON(&out)
	return out, err == nil
}

func (self *wsTestPeer) write(msg any) {
	self.lock.Lock()
	defer self.lock.Unlock()
	_ = self.conn.WriteJSON(msg)
}

// Reads until the client goes away. Reading also answers pings.
func (self *wsTestPeer) drain() {
	for {
		_, _, err := self.conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

// Serves one handler per websocket connection. Returns a "ws://" URL.
func wsServer(t *testing.T, fun func(peer *wsTestPeer)) string {
	var upgrader websocket.Upgrader

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(rw, req, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		fun(&wsTestPeer{conn: conn})
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func wsNotification(sub string, result any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params":  map[string]any{"subscription": sub, "result": result},
	}
}

func testWsTrans(t *testing.T, url string) *WsTrans {
	trans, err := DialWs(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { trans.Close() })
	return trans
}

func withWsKeepalive(t *testing.T, ping, pong time.Duration) {
	prevPing, prevPong := wsPingInterval, wsPongWait
	wsPingInterval, wsPongWait = ping, pong
	t.Cleanup(func() { wsPingInterval, wsPongWait = prevPing, prevPong })
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case val := <-ch:
		return val
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for a message")
		var zero T
		return zero
	}
}

func TestWsTrans_routes_concurrent_responses(t *testing.T) {
	const count = 8

	url := wsServer(t, func(peer *wsTestPeer) {
		var reqs []rpcTestRequest
		for len(reqs) < count {
			req, ok := peer.read()
			if !ok {
				return
			}
			reqs = append(reqs, req)
		}

		// Out of order, so only the id can route each response.
		for ind := len(reqs) - 1; ind >= 0; ind-- {
			peer.write(rpcResult(reqs[ind].Id, reqs[ind].Params[0]))
		}
		peer.drain()
	})
	trans := testWsTrans(t, url)

	results := make([]HexUint64, count)
	var group errgroup.Group
	for ind := range count {
		group.Go(func() error {
			return trans.Call(context.Background(), &results[ind], "test_echo", HexUint64(ind))
		})
	}
	require.NoError(t, group.Wait())

	for ind, val := range results {
		assert.Equal(t, HexUint64(ind), val)
	}
}

func TestWsTrans_subscribe(t *testing.T) {
	unsubscribed := make(chan string, 1)

	url := wsServer(t, func(peer *wsTestPeer) {
		req, ok := peer.read()
		if !ok {
			return
		}
		assert.Equal(t, "eth_subscribe", req.Method)

		peer.write(rpcResult(req.Id, "0xfeed"))
		peer.write(wsNotification("0xfeed", map[string]any{"number": "0x1"}))
		peer.write(wsNotification("0xother", map[string]any{"number": "0x99"}))
		peer.write(wsNotification("0xfeed", map[string]any{"number": "0x2"}))

		for {
			req, ok := peer.read()
			if !ok {
				return
			}
			if req.Method == "eth_unsubscribe" {
				unsubscribed <- decodeParam[string](t, req.Params[0])
			}
		}
	})
	trans := testWsTrans(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []byte, 4)
	errs := gogo(func() error { return trans.Subscribe(ctx, out, "newHeads") })

	assert.JSONEq(t, `{"number": "0x1"}`, string(receive(t, out)))
	assert.JSONEq(t, `{"number": "0x2"}`, string(receive(t, out)))

	cancel()
	assert.ErrorIs(t, receive(t, errs), context.Canceled)
	assert.Equal(t, "0xfeed", receive(t, unsubscribed))

	_, open := <-out
	assert.False(t, open)
}

func TestWsTrans_subscribe_rejected(t *testing.T) {
	url := wsServer(t, func(peer *wsTestPeer) {
		req, ok := peer.read()
		if !ok {
			return
		}
		peer.write(rpcResult(req.Id, ""))

		req, ok = peer.read()
		if !ok {
			return
		}
		peer.write(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Id,
			"error":   map[string]any{"code": -32601, "message": "notifications not supported"},
		})
		peer.drain()
	})
	trans := testWsTrans(t, url)

	out := make(chan []byte)
	err := trans.Subscribe(context.Background(), out, "newHeads")
	assert.ErrorContains(t, err, "empty subscription ID")
	_, open := <-out
	assert.False(t, open)

	out = make(chan []byte)
	err = trans.Subscribe(context.Background(), out, "newHeads")
	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(-32601), rpcErr.Code)
	_, open = <-out
	assert.False(t, open)
}

func TestWsTrans_connection_lost(t *testing.T) {
	url := wsServer(t, func(peer *wsTestPeer) {
		req, ok := peer.read()
		if !ok {
			return
		}
		peer.write(rpcResult(req.Id, "0xfeed"))
		peer.write(wsNotification("0xfeed", "0x1"))
	})
	trans := testWsTrans(t, url)

	out := make(chan []byte, 4)
	err := trans.Subscribe(context.Background(), out, "newHeads")
	var transErr *TransportError
	assert.ErrorAs(t, err, &transErr)

	assert.Equal(t, `"0x1"`, string(receive(t, out)))
	_, open := <-out
	assert.False(t, open)

	waitDone(t, trans)
	assert.ErrorAs(t, trans.Err(), &transErr)
	assert.Error(t, trans.Call(context.Background(), nil, "eth_blockNumber"))
}

func waitDone(t *testing.T, trans *WsTrans) {
	t.Helper()
	select {
	case <-trans.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "websocket transport still open")
	}
}

func TestWsTrans_keepalive_tolerates_idle_peer(t *testing.T) {
	withWsKeepalive(t, 20*time.Millisecond, 100*time.Millisecond)

	url := wsServer(t, func(peer *wsTestPeer) {
		for {
			req, ok := peer.read()
			if !ok {
				return
			}
			peer.write(rpcResult(req.Id, "0x2a"))
		}
	})
	trans := testWsTrans(t, url)

	// Several pong deadlines pass without any data frames.
	time.Sleep(300 * time.Millisecond)

	select {
	case <-trans.Done():
		require.FailNow(t, "idle connection dropped", "%+v", trans.Err())
	default:
	}

	var num HexUint64
	require.NoError(t, trans.Call(context.Background(), &num, "eth_blockNumber"))
	assert.Equal(t, HexUint64(42), num)
}

func TestWsTrans_drops_unresponsive_peer(t *testing.T) {
	withWsKeepalive(t, 20*time.Millisecond, 100*time.Millisecond)

	// Never reads, so pings go unanswered.
	release := make(chan struct{})
	url := wsServer(t, func(*wsTestPeer) { <-release })
	t.Cleanup(func() { close(release) })

	trans := testWsTrans(t, url)
	waitDone(t, trans)

	var transErr *TransportError
	assert.ErrorAs(t, trans.Err(), &transErr)
}

func TestWsTrans_close(t *testing.T) {
	url := wsServer(t, func(peer *wsTestPeer) { peer.drain() })
	trans := testWsTrans(t, url)

	require.NoError(t, trans.Close())
	require.NoError(t, trans.Close())
	waitDone(t, trans)
	assert.ErrorIs(t, trans.Err(), ErrClosed)
	assert.ErrorIs(t, trans.Call(context.Background(), nil, "eth_blockNumber"), ErrClosed)
}

func TestDispatcher_subscribe_over_ws(t *testing.T) {
	released := make(chan struct{})

	url := wsServer(t, func(peer *wsTestPeer) {
		defer close(released)

		req, ok := peer.read()
		if !ok {
			return
		}
		assert.Equal(t, "eth_subscribe", req.Method)
		peer.write(rpcResult(req.Id, "0xfeed"))
		peer.write(wsNotification("0xfeed", map[string]any{"number": "0x7"}))
		peer.drain()
	})

	net := Network{ChainID: 0x7e57, Name: "testnet", HttpURL: "http://localhost", WsURL: url}
	dispatcher := NewDispatcher(net, zap.NewNop(), nil)
	require.True(t, dispatcher.HasWs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads := make(chan BlockHead, 1)
	errs := gogo(func() error { return SubscribeHeads(ctx, dispatcher, heads) })
	assert.Equal(t, HexUint64(7), receive(t, heads).Number)

	cancel()
	assert.ErrorIs(t, receive(t, errs), context.Canceled)

	// The connection is released along with the subscription.
	receive(t, released)
}

func TestDispatcher_subscribe_without_ws(t *testing.T) {
	dispatcher := NewDispatcher(Network{ChainID: 0x7e57, HttpURL: "http://localhost"}, zap.NewNop(), nil)
	assert.False(t, dispatcher.HasWs())

	heads := make(chan BlockHead)
	err := SubscribeHeads(context.Background(), dispatcher, heads)
	var contractual *ContractualError
	assert.ErrorAs(t, err, &contractual)

	_, open := <-heads
	assert.False(t, open)
}
