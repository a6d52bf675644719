package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/solcrank/perp-keeper/internal/rpc"
	"github.com/solcrank/perp-keeper/internal/txn"
)

// ErrDuplicate is returned when the replay guard rejects a submission
// whose key was already admitted inside the guard window.
var ErrDuplicate = errors.New("duplicate submission inside guard window")

// TxError wraps a submission failure. Permanent errors must not be
// retried by any caller: the transaction as built can never land.
type TxError struct {
	Key       string
	Permanent bool
	Err       error
}

func (e *TxError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("submit %s: permanent: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("submit %s: %v", e.Key, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Sender is the node-facing surface the submitter needs. *rpc.Client
// satisfies it.
type Sender interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, wire []byte) (string, error)
}

// Options tunes a Submitter.
type Options struct {
	GuardTTL     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// Submitter signs and sends transactions for the keeper. Each attempt
// fetches a fresh blockhash so a retried send never reuses one that
// may have expired while the previous attempt was in flight.
type Submitter struct {
	sender       Sender
	payer        *txn.Keypair
	guard        *Guard
	maxRetries   int
	retryBackoff time.Duration
	logger       *slog.Logger
}

// New creates a Submitter that signs with payer.
func New(sender Sender, payer *txn.Keypair, opts Options) *Submitter {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Submitter{
		sender:       sender,
		payer:        payer,
		guard:        NewGuard(opts.GuardTTL),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger,
	}
}

// GuardHits returns how many submissions the replay guard absorbed.
func (s *Submitter) GuardHits() uint64 { return s.guard.Hits() }

// Submit builds, signs, and sends a transaction carrying instrs,
// returning the signature. key identifies the logical submission for
// replay suppression; a repeat inside the guard window returns
// ErrDuplicate without touching the node.
func (s *Submitter) Submit(ctx context.Context, key string, instrs []txn.Instruction) (string, error) {
	if !s.guard.Admit(key) {
		return "", ErrDuplicate
	}

	var lastErr error
	backoff := s.retryBackoff

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			s.logger.Debug("retrying submission",
				"key", key,
				"attempt", attempt,
				"backoff", jitter,
			)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		sig, err := s.attempt(ctx, instrs)
		if err == nil {
			return sig, nil
		}
		lastErr = err

		var txErr *TxError
		if errors.As(err, &txErr) && txErr.Permanent {
			txErr.Key = key
			return "", err
		}
		if !isTransient(err) {
			return "", &TxError{Key: key, Err: err}
		}
	}

	return "", &TxError{Key: key, Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

func (s *Submitter) attempt(ctx context.Context, instrs []txn.Instruction) (string, error) {
	blockhash, err := s.sender.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch blockhash: %w", err)
	}

	wire, sig, err := txn.BuildAndSign(instrs, s.payer, blockhash)
	if err != nil {
		if errors.Is(err, txn.ErrTooLarge) {
			// No amount of retrying shrinks the payload.
			return "", &TxError{Permanent: true, Err: err}
		}
		return "", &TxError{Permanent: true, Err: fmt.Errorf("build transaction: %w", err)}
	}

	got, err := s.sender.SendTransaction(ctx, wire)
	if err != nil {
		return "", err
	}
	if got != "" {
		sig = got
	}
	return sig, nil
}

// isTransient reports whether a failed attempt is worth repeating.
// Classification comes from error types and codes only, never from
// message text.
func isTransient(err error) bool {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
