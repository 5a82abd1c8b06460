package web3

import (
	"context"
	"iter"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// Blocks trimmed from the tip before a backfill, unless overridden.
	DefaultConfirmations = 2

	// Pause before retrying a window after the provider signals rate limiting.
	DefaultRateLimitDelay = 3 * time.Second
)

// Options of "Event.Backfill". The zero value sweeps from block 1 to the
// confirmed tip in one window, shrinking it as needed.
type BackfillOpts struct {
	From uint64

	// Last block to sweep; nil means the confirmed tip. Capped by the tip.
	To *uint64

	// Distance between the first and last block of a window. Zero means the
	// whole range.
	Step uint64

	// Blocks trimmed from the tip; nil means "DefaultConfirmations".
	Confirmations *uint64

	// Zero means "DefaultRateLimitDelay".
	RateLimitDelay time.Duration

	// Nil means "IsRateLimited".
	IsRateLimited func(error) bool

	// Nil means "ParseLogResponseExceeded".
	ParseExceeded func(err error, start, end uint64) (*LogResponseExceededError, bool)
}

func (self BackfillOpts) confirmations() uint64 {
	if self.Confirmations != nil {
		return *self.Confirmations
	}
	return DefaultConfirmations
}

func (self BackfillOpts) rateLimitDelay() time.Duration {
	if self.RateLimitDelay > 0 {
		return self.RateLimitDelay
	}
	return DefaultRateLimitDelay
}

func (self BackfillOpts) isRateLimited(err error) bool {
	if self.IsRateLimited != nil {
		return self.IsRateLimited(err)
	}
	return IsRateLimited(err)
}

func (self BackfillOpts) parseExceeded(err error, start, end uint64) (*LogResponseExceededError, bool) {
	if self.ParseExceeded != nil {
		return self.ParseExceeded(err, start, end)
	}
	return ParseLogResponseExceeded(err, start, end)
}

/*
Sweeps historical logs of this event, yielding each matching log exactly once,
in chain order. Blocks within the last "Confirmations" of the tip are left out.

Requests cover windows of "Step" blocks. When the provider refuses a window as
too large, the window shrinks to the provider's suggested range, or halves when
there's no suggestion; when the provider rate-limits, the same window is retried
after "RateLimitDelay". A failed window is never skipped. Undecodable logs are
logged and skipped. Other errors are yielded once and end the sequence.
*/
func (self Event[E]) Backfill(ctx context.Context, opts BackfillOpts) iter.Seq2[DecodedLog[E], error] {
	return func(yield func(DecodedLog[E], error) bool) {
		stopped := false
		err := self.backfill(ctx, opts, func(log DecodedLog[E]) bool {
			stopped = !yield(log, nil)
			return !stopped
		})
		if err != nil && !stopped {
			yield(DecodedLog[E]{}, err)
		}
	}
}

func (self Event[E]) backfill(ctx context.Context, opts BackfillOpts, yield func(DecodedLog[E]) bool) error {
	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return err
	}

	_, err = self.definition()
	if err != nil {
		return err
	}

	logger := self.logger().With(zap.String("event", self.Name()))

	return sweepLogs(ctx, trans, logger, opts, self.Signature(), self.LogFilter, func(logs []LogEntry, from, to uint64) bool {
		for _, log := range self.DecodeLogs(logs) {
			num := uint64(log.BlockNumber)
			if num < from || num > to {
				continue
			}
			if !yield(log) {
				return false
			}
		}
		return true
	})
}

/*
Like "Event.Backfill", for arbitrary filters and without decoding. The block
range of the filter is ignored in favor of "opts". Yields raw logs in chain
order.
*/
func BackfillLogs(ctx context.Context, trans Trans, filter LogFilter, opts BackfillOpts) iter.Seq2[LogEntry, error] {
	return func(yield func(LogEntry, error) bool) {
		filterFor := func(from, to BlockNumber) (LogFilter, error) {
			out := filter
			out.FromBlock = from
			out.ToBlock = to
			out.BlockHash = nil
			return out, nil
		}

		stopped := false
		err := sweepLogs(ctx, trans, Logger(), opts, "logs", filterFor, func(logs []LogEntry, from, to uint64) bool {
			logs = slices.Clone(logs)
			slices.SortStableFunc(logs, CompareLogEntries)

			for _, log := range logs {
				num := uint64(log.BlockNumber)
				if num < from || num > to {
					continue
				}
				if !yield(log, nil) {
					stopped = true
					return false
				}
			}
			return true
		})
		if err != nil && !stopped {
			yield(LogEntry{}, err)
		}
	}
}

/*
Window loop shared by backfills. Calls "each" with the logs of every window
in order; stops early when it returns false.
*/
func sweepLogs(
	ctx context.Context,
	trans Trans,
	logger *zap.Logger,
	opts BackfillOpts,
	label string,
	filterFor func(from, to BlockNumber) (LogFilter, error),
	each func(logs []LogEntry, from, to uint64) bool,
) error {
	latest, err := EthBlockNumber(ctx, trans)
	if err != nil {
		return errors.Wrapf(err, `failed to start backfill of %v`, label)
	}

	conf := opts.confirmations()
	if latest < conf {
		return nil
	}
	end := latest - conf
	if opts.To != nil && *opts.To < end {
		end = *opts.To
	}

	cur := max(opts.From, 1)
	if cur > end {
		return nil
	}

	win := opts.Step
	if win == 0 || win > end-cur {
		win = end - cur
	}

	for cur <= end {
		hi := end
		if win < end-cur {
			hi = cur + win
		}

		filter, err := filterFor(cur, hi)
		if err != nil {
			return err
		}

		logs, err := EthGetLogs(ctx, trans, filter)
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}

			exceeded, ok := opts.parseExceeded(err, cur, hi)
			if ok {
				if exceeded.Hinted && exceeded.End >= cur && exceeded.End < hi {
					win = exceeded.End - cur
				} else if win > 0 {
					win /= 2
				} else {
					return errors.Wrapf(err, `backfill of %v: provider refused a single-block window at %v`, label, cur)
				}
				logger.Debug(`shrinking backfill window`,
					zap.Uint64("fromBlock", cur),
					zap.Uint64("toBlock", hi),
					zap.Uint64("window", win),
				)
				continue
			}

			if opts.isRateLimited(err) {
				logger.Warn(`rate limited during backfill, retrying`,
					zap.Uint64("fromBlock", cur),
					zap.Uint64("toBlock", hi),
					zap.Error(&RateLimitedError{Cause: err}),
				)
				err = sleep(ctx, opts.rateLimitDelay())
				if err != nil {
					return errors.WithStack(err)
				}
				continue
			}

			return errors.Wrapf(err, `backfill of %v failed at window [%v, %v]`, label, cur, hi)
		}

		logger.Debug(`backfilled window`,
			zap.Uint64("fromBlock", cur),
			zap.Uint64("toBlock", hi),
			zap.Int("logs", len(logs)),
		)

		if !each(logs, cur, hi) {
			return nil
		}

		if hi == end {
			break
		}
		cur = hi + 1
	}
	return nil
}

var exceededRangeRegexp = regexp.MustCompile(`\[0x([0-9a-fA-F]+), ?0x([0-9a-fA-F]+)\]`)

var exceededMessages = []string{
	"log response size exceeded",
	"query returned more than",
	"response size exceeded",
	"block range",
	"range is too large",
	"logs matched by query exceeds",
}

/*
Recognizes provider refusals of an "eth_getLogs" window as too large. When the
message carries a suggested range such as "[0x10, 0x2f]", its upper bound
becomes "End" and "Hinted" is set.
*/
func ParseLogResponseExceeded(err error, start, end uint64) (*LogResponseExceededError, bool) {
	var rpcErr *RpcError
	if !errors.As(err, &rpcErr) {
		return nil, false
	}

	msg := strings.ToLower(rpcErr.Message)
	match := exceededRangeRegexp.FindStringSubmatch(rpcErr.Message)
	if match != nil {
		lo, errLo := strconv.ParseUint(match[1], 16, 64)
		hi, errHi := strconv.ParseUint(match[2], 16, 64)
		if errLo == nil && errHi == nil && lo <= hi {
			return &LogResponseExceededError{Start: lo, End: hi, Hinted: true, Cause: err}, true
		}
	}

	for _, pattern := range exceededMessages {
		if strings.Contains(msg, pattern) {
			return &LogResponseExceededError{Start: start, End: end, Cause: err}, true
		}
	}
	return nil, false
}

var rateLimitMessages = []string{
	"rate limit",
	"too many requests",
	"compute units",
	"throughput",
	"request limit",
}

/*
Recognizes provider rate limiting: HTTP 429, the JSON-RPC codes 429 and -32005,
and the messages used by common providers.
*/
func IsRateLimited(err error) bool {
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return true
	}

	var statusErr *HttpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == 429
	}

	var rpcErr *RpcError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == 429 || rpcErr.Code == -32005 {
		return true
	}

	msg := strings.ToLower(rpcErr.Message)
	for _, pattern := range rateLimitMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
