package web3

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*
Routes requests to one network: calls go over a shared HTTP transport, and
every subscription opens its own websocket connection, released when the
subscription ends. Implements "Trans". Obtained via "Dispatch".
*/
type Dispatcher struct {
	Network Network
	Logger  *zap.Logger
	Metrics *Metrics

	http *HttpTrans
}

// Creates a dispatcher without registering it. Most code should use "Dispatch".
func NewDispatcher(net Network, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	trans := NewHttpTrans(net.HttpURL)
	if net.Timeout > 0 {
		trans.Timeout = net.Timeout
	}
	if net.Retries > 0 {
		trans.Retries = net.Retries
	}
	trans.Network = net.String()
	trans.Logger = logger
	trans.Metrics = metrics

	return &Dispatcher{Network: net, Logger: logger, Metrics: metrics, http: trans}
}

// Makes an RPC call over HTTP.
func (self *Dispatcher) Call(ctx context.Context, out any, method string, params ...any) error {
	return self.http.Call(ctx, out, method, params...)
}

/*
Opens a websocket connection, subscribes, and blocks until the subscription
ends, then closes the connection. Fails immediately for networks without a
websocket endpoint.
*/
func (self *Dispatcher) Subscribe(ctx context.Context, out chan []byte, params ...any) error {
	if !self.HasWs() {
		close(out)
		return contractualErrorf(`network %v has no websocket endpoint`, self.Network)
	}

	ws, err := DialWs(ctx, self.Network.WsURL, self.Logger)
	if err != nil {
		close(out)
		return err
	}
	defer ws.Close()

	ws.Network = self.Network.String()
	ws.Metrics = self.Metrics
	return ws.Subscribe(ctx, out, params...)
}

// Always closed: the HTTP side is stateless.
func (self *Dispatcher) Connected() chan struct{} { return alwaysConnected }

// True if the network has a websocket endpoint.
func (self *Dispatcher) HasWs() bool { return self.Network.WsURL != "" }

var (
	dispatchers     atomic.Pointer[map[uint64]*Dispatcher]
	dispatchersLock sync.Mutex
)

/*
Returns the process-wide dispatcher for the network, creating it on first use.
Dispatchers are keyed by chain id; the registry is copy-on-insert, so lookups
never lock. Passing a reconfigured network with a known chain id replaces the
previous dispatcher.
*/
func Dispatch(net Network) *Dispatcher {
	found := lookupDispatcher(net)
	if found != nil {
		return found
	}

	dispatchersLock.Lock()
	defer dispatchersLock.Unlock()

	found = lookupDispatcher(net)
	if found != nil {
		return found
	}

	next := map[uint64]*Dispatcher{}
	prev := dispatchers.Load()
	if prev != nil {
		for key, val := range *prev {
			next[key] = val
		}
	}

	out := NewDispatcher(net, Logger(), DefaultMetrics())
	next[net.ChainID] = out
	dispatchers.Store(&next)
	return out
}

func lookupDispatcher(net Network) *Dispatcher {
	registry := dispatchers.Load()
	if registry == nil {
		return nil
	}
	found := (*registry)[net.ChainID]
	if found == nil || found.Network != net {
		return nil
	}
	return found
}

type networkKey struct{}

/*
Returns a context that routes contract calls to the given network. This is the
task-local "current network": concurrent flows may target different chains.
*/
func WithNetwork(ctx context.Context, net Network) context.Context {
	return context.WithValue(ctx, networkKey{}, net)
}

// Returns the network attached via "WithNetwork", if any.
func NetworkFromContext(ctx context.Context) (Network, bool) {
	net, ok := ctx.Value(networkKey{}).(Network)
	return net, ok
}

var defaultNetwork atomic.Pointer[Network]

// Sets the process-wide fallback used when the context carries no network.
func SetDefaultNetwork(net Network) {
	defaultNetwork.Store(&net)
}

/*
Returns the network for the context: the one attached via "WithNetwork", else
the process-wide default. Returns a "ContractualError" if neither is set.
*/
func CurrentNetwork(ctx context.Context) (Network, error) {
	net, ok := NetworkFromContext(ctx)
	if ok {
		return net, nil
	}
	def := defaultNetwork.Load()
	if def != nil {
		return *def, nil
	}
	return Network{}, contractualErrorf(`no network selected: use "WithNetwork" or "SetDefaultNetwork"`)
}

// Shortcut for "Dispatch(CurrentNetwork(ctx))".
func CurrentDispatcher(ctx context.Context) (*Dispatcher, error) {
	net, err := CurrentNetwork(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Dispatch(net), nil
}
