package web3

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Silence on a live subscription is normal on quiet filters; after this long
// it's logged, and the subscription keeps waiting.
const subscriptionIdleTimeout = 32 * time.Second

/*
Streams logs matching the filter over a "logs" subscription, until the context
is canceled. Resubscribes after interruptions, pausing 1 second between
attempts; logs emitted while disconnected are not replayed, so consumers that
need continuity should backfill from their last observed block. Logs retracted
by a reorg arrive with ".Removed" set. Closes the output channel on return.
*/
func SubscribeLogs(ctx context.Context, trans Trans, filter LogFilter, out chan<- LogEntry) error {
	defer close(out)

	filter.FromBlock = nil
	filter.ToBlock = nil
	logger := Logger()

	return resubscribe(ctx, trans, logger, []any{"logs", filter}, func(ctx context.Context, input []byte) {
		var log LogEntry
		err := json.Unmarshal(input, &log)
		if err != nil {
			logger.Warn(`skipping malformed log notification`, zap.Error(err))
			return
		}
		select {
		case out <- log:
		case <-ctx.Done():
		}
	})
}

/*
Streams new block headers over a "newHeads" subscription, until the context is
canceled. Resilient version of "SubscribeToBlockHeads": resubscribes after
interruptions like "SubscribeLogs". Closes the output channel on return.
*/
func SubscribeHeads(ctx context.Context, trans Trans, out chan<- BlockHead) error {
	defer close(out)

	logger := Logger()

	return resubscribe(ctx, trans, logger, []any{"newHeads"}, func(ctx context.Context, input []byte) {
		var head BlockHead
		err := json.Unmarshal(input, &head)
		if err != nil {
			logger.Warn(`skipping malformed block head notification`, zap.Error(err))
			return
		}
		select {
		case out <- head:
		case <-ctx.Done():
		}
	})
}

/*
Streams live logs of this event, decoded, until the context is canceled. Logs
that fail validation against the event are logged and skipped. See
"SubscribeLogs" for the reconnection policy. Closes the output channel on
return.
*/
func (self Event[E]) Subscribe(ctx context.Context, out chan<- DecodedLog[E]) error {
	defer close(out)

	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return err
	}

	filter, err := self.LogFilter(nil, nil)
	if err != nil {
		return err
	}

	logger := self.logger()

	return resubscribe(ctx, trans, logger, []any{"logs", filter}, func(ctx context.Context, input []byte) {
		var log LogEntry
		err := json.Unmarshal(input, &log)
		if err != nil {
			logger.Warn(`skipping malformed log notification`, zap.Error(err))
			return
		}
		if !filter.Matches(log) {
			return
		}

		decoded, ok := self.decodeOrSkip(log)
		if !ok {
			return
		}
		select {
		case out <- decoded:
		case <-ctx.Done():
		}
	})
}

func resubscribe(
	ctx context.Context,
	trans Trans,
	logger *zap.Logger,
	params []any,
	handle func(context.Context, []byte),
) error {
	network, metrics := transLabels(trans)

	for {
		err := subscribeOnce(ctx, trans, logger, params, handle)
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}

		var contractual *ContractualError
		if errors.As(err, &contractual) {
			return err
		}

		logger.Warn(`subscription interrupted, reconnecting`,
			zap.String("network", network),
			zap.Duration("delay", defaultReconnectInterval),
			zap.Error(err),
		)
		metrics.observeReconnect(network)

		err = sleep(ctx, defaultReconnectInterval)
		if err != nil {
			return errors.WithStack(err)
		}
	}
}

func subscribeOnce(
	ctx context.Context,
	trans Trans,
	logger *zap.Logger,
	params []any,
	handle func(context.Context, []byte),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputs := make(chan []byte, 1024)
	errChan := gogo(func() error {
		return trans.Subscribe(ctx, inputs, params...)
	})

	idle := time.NewTimer(subscriptionIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case input, ok := <-inputs:
			if !ok {
				err := <-errChan
				if err == nil {
					err = errors.New(`subscription ended by the server`)
				}
				return err
			}
			idle.Reset(subscriptionIdleTimeout)
			handle(ctx, input)

		case <-idle.C:
			logger.Debug(`subscription idle`, zap.Duration("idle", subscriptionIdleTimeout))
			idle.Reset(subscriptionIdleTimeout)
		}
	}
}

func transLabels(trans Trans) (string, *Metrics) {
	switch trans := trans.(type) {
	case *Dispatcher:
		return trans.Network.String(), trans.Metrics
	case *WsTrans:
		return trans.Network, trans.Metrics
	case *HttpTrans:
		return trans.Network, trans.Metrics
	default:
		return "", DefaultMetrics()
	}
}
