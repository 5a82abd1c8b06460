package web3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const jsonRpcVersion = "2.0"

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second

	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 10_000
)

// Keepalive of websocket connections. Copied into each "WsTrans" when dialing.
var (
	wsPingInterval = 60 * time.Second
	wsPongWait     = wsPingInterval + 60*time.Second
)

/*
Common interface implemented by RPC transports. Obtained via "Dial" or
"Dispatch" and passed to the various RPC functions.
*/
type Trans interface {
	/**
	Should make an RPC request and decode the response's "result" into `out`,
	which must be a pointer or nil. A JSON-RPC error must be returned as
	"*RpcError".
	*/
	Call(ctx context.Context, out any, method string, params ...any) error

	/**
	Should register a subscription and block until it's finished, sending values
	over the provided channel and returning the error that interrupted it, if
	any. Before returning, should always close the output channel and, if
	possible, send an unsubscribe command to the server.
	*/
	Subscribe(ctx context.Context, out chan []byte, params ...any) error

	/**
	Should return a channel that becomes closed when the transport is connected.
	Stateless transports such as HTTP should always return a closed channel.
	*/
	Connected() chan struct{}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Id      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Id     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RpcError       `json:"error"`
}

// Params are always an array on the wire, even when empty.
func rpcParams(params []any) []any {
	if params == nil {
		return []any{}
	}
	return params
}

/*
Chooses the appropriate transport for the given URL. Websocket transports are
connected immediately. The optional logger is used for background logging.
*/
func Dial(ctx context.Context, rpcPath string, logger *zap.Logger) (Trans, error) {
	rpcUrl, err := url.Parse(rpcPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	switch rpcUrl.Scheme {
	case "ws", "wss":
		return DialWs(ctx, rpcPath, logger)
	case "http", "https":
		trans := NewHttpTrans(rpcPath)
		trans.Logger = logger
		return trans, nil
	}
	return nil, errors.Errorf("unsupported RPC path: %v", redactUrl(rpcPath))
}

/*
Stateless HTTP transport. Doesn't support subscriptions. Safe for concurrent
use. Transport errors, timeouts, 5xx statuses and undecodable bodies are retried
up to ".Retries" times with ".RetryDelay" between attempts; JSON-RPC errors are
returned immediately.
*/
type HttpTrans struct {
	Url        string
	Client     *http.Client
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Network    string
	Logger     *zap.Logger
	Metrics    *Metrics

	id atomic.Uint64
}

// Creates an HTTP transport with default timeout and retry policy.
func NewHttpTrans(rpcUrl string) *HttpTrans {
	return &HttpTrans{
		Url:        rpcUrl,
		Timeout:    DefaultTimeout,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Since an HTTP transport is "always connected", this returns a channel that's
// always closed.
func (self *HttpTrans) Connected() chan struct{} { return alwaysConnected }

var alwaysConnected = func() chan struct{} {
	out := make(chan struct{})
	close(out)
	return out
}()

// Makes an RPC call, retrying transient failures.
func (self *HttpTrans) Call(ctx context.Context, out any, method string, params ...any) error {
	start := time.Now()
	err := self.call(ctx, out, method, params)
	self.Metrics.observeRpc(self.Network, method, err, time.Since(start))
	return err
}

func (self *HttpTrans) call(ctx context.Context, out any, method string, params []any) error {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: jsonRpcVersion,
		Id:      self.id.Add(1),
		Method:  method,
		Params:  rpcParams(params),
	})
	if err != nil {
		return errors.Wrapf(err, `failed to encode params of %q`, method)
	}

	for attempt := 0; ; attempt++ {
		err = self.post(ctx, out, method, body)
		if err == nil || !isRetriable(err) || attempt >= self.Retries || ctx.Err() != nil {
			return err
		}

		self.Metrics.observeRetry(self.Network, method)
		loggerOr(self.Logger).Debug("retrying RPC request",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if sleep(ctx, self.RetryDelay) != nil {
			return err
		}
	}
}

func (self *HttpTrans) post(ctx context.Context, out any, method string, body []byte) error {
	if self.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, self.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, self.Url, bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := self.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return errors.WithStack(&TransportError{Url: redactUrl(self.Url), Cause: err})
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.WithStack(&TransportError{Url: redactUrl(self.Url), Cause: err})
	}

	if res.StatusCode != http.StatusOK {
		return errors.WithStack(&HttpStatusError{Status: res.StatusCode, Body: payload})
	}

	var rpcRes rpcResponse
	err = json.Unmarshal(payload, &rpcRes)
	if err != nil {
		return errors.WithStack(&RpcDecodeError{Method: method, Body: payload, Cause: err})
	}
	return rpcRes.decode(out, method)
}

func (self rpcResponse) decode(out any, method string) error {
	// Note: `error((*RpcError)(nil)) != nil` !!!
	if self.Error != nil {
		return errors.WithStack(self.Error)
	}
	if out == nil || len(self.Result) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(self.Result, out), `failed to decode result of %q`, method)
}

/*
Not supported by the HTTP transport. Always returns a "*ContractualError", which
stops resubscribing callers such as "SubscribeLogs" instead of retrying.
*/
func (self *HttpTrans) Subscribe(_ context.Context, out chan []byte, _ ...any) error {
	close(out)
	return contractualErrorf(`HTTP RPC transport doesn't support subscriptions`)
}

/*
Websocket transport over a single connection. Supports RPC calls and
subscriptions. Doesn't reconnect: once the connection fails, every call and
subscription returns the error, and ".Done()" is closed. Long-running streams
dial a fresh transport per attempt; see "SubscribeLogs".
*/
type WsTrans struct {
	Url     string
	Network string
	Logger  *zap.Logger
	Metrics *Metrics

	conn         *websocket.Conn
	writeLock    sync.Mutex
	id           atomic.Uint64
	pingInterval time.Duration
	pongWait     time.Duration

	lock    sync.Mutex
	pending map[uint64]*wsCall
	subs    map[string]*wsSub
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

type wsCall struct {
	res chan rpcResponse
	sub *wsSub
}

type wsSub struct {
	id       string
	ch       chan []byte
	overflow atomic.Bool
}

// Signals that the websocket transport was closed by the caller.
var ErrClosed = errors.New("websocket transport closed")

/*
Establishes a websocket connection to the RPC node at the given URL and starts
the background read loop. Must be released via ".Close()".
*/
func DialWs(ctx context.Context, rpcUrl string, logger *zap.Logger) (*WsTrans, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rpcUrl, nil)
	if err != nil {
		return nil, errors.WithStack(&TransportError{Url: redactUrl(rpcUrl), Cause: err})
	}

	self := &WsTrans{
		Url:          rpcUrl,
		Logger:       logger,
		conn:         conn,
		pingInterval: wsPingInterval,
		pongWait:     wsPongWait,
		pending:      map[uint64]*wsCall{},
		subs:         map[string]*wsSub{},
		done:         make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(self.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(self.pongWait))
	})

	go self.readLoop()
	go self.pingLoop()
	return self, nil
}

// Always closed: a live WsTrans is connected by construction.
func (self *WsTrans) Connected() chan struct{} { return alwaysConnected }

// Closed when the connection is gone, whether by failure or ".Close()".
func (self *WsTrans) Done() <-chan struct{} { return self.done }

// The error that terminated the connection, if any.
func (self *WsTrans) Err() error {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.err
}

// Releases the connection. Idempotent.
func (self *WsTrans) Close() error {
	self.writeLock.Lock()
	self.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	self.writeLock.Unlock()
	self.shutdown(ErrClosed)
	return nil
}

func (self *WsTrans) shutdown(err error) {
	self.closeOnce.Do(func() {
		self.lock.Lock()
		self.err = err
		for id := range self.pending {
			delete(self.pending, id)
		}
		for id, sub := range self.subs {
			close(sub.ch)
			delete(self.subs, id)
		}
		self.lock.Unlock()

		self.conn.Close()
		close(self.done)
	})
}

func (self *WsTrans) readLoop() {
	err := self.receive()
	if !errors.Is(self.Err(), ErrClosed) {
		loggerOr(self.Logger).Warn("websocket connection lost",
			zap.String("url", redactUrl(self.Url)),
			zap.Error(err))
	}
	self.shutdown(err)
}

type wsMessage struct {
	rpcResponse
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

/*
Note: we receive and unmarshal separately. A receiving failure indicates a
disconnect. An unmarshaling error indicates a malformed message, but not
necessarily a connection problem.
*/
func (self *WsTrans) receive() error {
	for {
		_, payload, err := self.conn.ReadMessage()
		if err != nil {
			return errors.WithStack(&TransportError{Url: redactUrl(self.Url), Cause: err})
		}
		self.conn.SetReadDeadline(time.Now().Add(self.pongWait))

		var msg wsMessage
		err = json.Unmarshal(payload, &msg)
		if err != nil {
			loggerOr(self.Logger).Warn("failed to decode websocket message",
				zap.String("url", redactUrl(self.Url)),
				zap.Error(err))
			continue
		}

		if msg.Id != nil {
			self.deliver(*msg.Id, msg.rpcResponse)
			continue
		}

		// When ID is missing, assume it's a notification:
		// https://www.jsonrpc.org/specification#notification
		if msg.Method == "eth_subscription" {
			self.notify(msg.Params.Subscription, msg.Params.Result)
		}
	}
}

/*
Subscriptions are registered here, in the read loop, before the response is
handed to the caller, so that notifications which immediately follow the
response are never lost.
*/
func (self *WsTrans) deliver(id uint64, res rpcResponse) {
	self.lock.Lock()
	call := self.pending[id]
	delete(self.pending, id)

	if call != nil && call.sub != nil && res.Error == nil {
		var subId string
		if json.Unmarshal(res.Result, &subId) == nil && subId != "" {
			call.sub.id = subId
			self.subs[subId] = call.sub
		}
	}
	self.lock.Unlock()

	if call != nil {
		call.res <- res
	}
}

func (self *WsTrans) notify(subId string, result json.RawMessage) {
	self.lock.Lock()
	defer self.lock.Unlock()

	sub := self.subs[subId]
	if sub == nil {
		return
	}

	select {
	case sub.ch <- []byte(result):
	default:
		sub.overflow.Store(true)
		close(sub.ch)
		delete(self.subs, subId)
	}
}

func (self *WsTrans) pingLoop() {
	ticker := time.NewTicker(self.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-self.done:
			return
		case <-ticker.C:
			self.writeLock.Lock()
			err := self.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			self.writeLock.Unlock()
			if err != nil {
				self.shutdown(errors.WithStack(&TransportError{Url: redactUrl(self.Url), Cause: err}))
				return
			}
		}
	}
}

func (self *WsTrans) send(req rpcRequest) error {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	self.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := self.conn.WriteJSON(req)
	if err != nil {
		return errors.WithStack(&TransportError{Url: redactUrl(self.Url), Cause: err})
	}
	return nil
}

func (self *WsTrans) roundTrip(ctx context.Context, method string, params []any, sub *wsSub) (rpcResponse, error) {
	id := self.id.Add(1)
	call := &wsCall{res: make(chan rpcResponse, 1), sub: sub}

	self.lock.Lock()
	if self.err != nil {
		err := self.err
		self.lock.Unlock()
		return rpcResponse{}, err
	}
	self.pending[id] = call
	self.lock.Unlock()

	defer func() {
		self.lock.Lock()
		delete(self.pending, id)
		self.lock.Unlock()
	}()

	err := self.send(rpcRequest{Jsonrpc: jsonRpcVersion, Id: id, Method: method, Params: rpcParams(params)})
	if err != nil {
		return rpcResponse{}, err
	}

	select {
	case <-ctx.Done():
		return rpcResponse{}, errors.WithStack(ctx.Err())
	case <-self.done:
		return rpcResponse{}, self.Err()
	case res := <-call.res:
		return res, nil
	}
}

// Makes an RPC call over the websocket connection.
func (self *WsTrans) Call(ctx context.Context, out any, method string, params ...any) error {
	start := time.Now()
	res, err := self.roundTrip(ctx, method, params, nil)
	if err == nil {
		err = res.decode(out, method)
	}
	self.Metrics.observeRpc(self.Network, method, err, time.Since(start))
	return err
}

/*
Creates a subscription with the given params, such as `"logs", filter` or
`"newHeads"`, sending raw "result" payloads over the provided channel. The
caller is expected to handle decoding on their own.

Returns an error when the context is canceled, when the connection is
interrupted, or when the subscriber falls more than 10 000 messages behind.
Does NOT automatically resubscribe.
*/
func (self *WsTrans) Subscribe(ctx context.Context, out chan []byte, params ...any) error {
	defer close(out)

	sub := &wsSub{ch: make(chan []byte, wsQueueSize)}
	res, err := self.roundTrip(ctx, "eth_subscribe", params, sub)
	if err != nil {
		return errors.Wrap(err, `error in "eth_subscribe"`)
	}
	if res.Error != nil {
		return errors.Wrap(res.Error, `error in "eth_subscribe"`)
	}
	if sub.id == "" {
		return errors.New("failed to subscribe: received empty subscription ID")
	}
	defer self.unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())

		case msg, ok := <-sub.ch:
			if !ok {
				if sub.overflow.Load() {
					return errors.Errorf(`subscription %v overflowed its queue of %v messages`, sub.id, wsQueueSize)
				}
				return self.Err()
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			}
		}
	}
}

func (self *WsTrans) unsubscribe(sub *wsSub) {
	self.lock.Lock()
	live := self.err == nil
	if self.subs[sub.id] == sub {
		delete(self.subs, sub.id)
	}
	self.lock.Unlock()

	if live {
		// The response is ignored: its id matches no pending call.
		_ = self.send(rpcRequest{
			Jsonrpc: jsonRpcVersion,
			Id:      self.id.Add(1),
			Method:  "eth_unsubscribe",
			Params:  []any{sub.id},
		})
	}
}

// Hides paths and credentials, which commonly carry API keys.
func redactUrl(input string) string {
	val, err := url.Parse(input)
	if err != nil || val.Host == "" {
		return "<invalid url>"
	}
	return val.Scheme + "://" + val.Host
}
