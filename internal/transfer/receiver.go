package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/verifier"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
)

// Receiver errors.
var (
	// ErrBurned means the token descends from a double spend and can never
	// be accepted.
	ErrBurned = errors.New("token is burned")
	// ErrNotForUs means the token key does not derive from the wallet.
	ErrNotForUs = errors.New("token is not addressed to this wallet")
)

// RetryPolicy controls how long a receiver waits for spends to propagate.
type RetryPolicy struct {
	Attempts   int           // total verification attempts, at least 1
	Initial    time.Duration // delay after the first failure
	Max        time.Duration // cap on any single delay
	Multiplier float64
}

// DefaultRetryPolicy waits up to roughly a minute in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   7,
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
	}
}

// Delay is the wait after the given failed attempt, counted from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for range attempt {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Receiver accepts tokens into a wallet once their ancestry verifies.
type Receiver struct {
	wallet   *wallet.Wallet
	verifier *verifier.Verifier
	policy   RetryPolicy
}

// NewReceiver creates a receiver.
func NewReceiver(w *wallet.Wallet, v *verifier.Verifier, policy RetryPolicy) *Receiver {
	return &Receiver{wallet: w, verifier: v, policy: policy}
}

// Receive verifies tok and deposits it. Verification is retried with
// exponential backoff while the failure is retryable. A token with a
// double spend in its ancestry fails with ErrBurned.
func (r *Receiver) Receive(ctx context.Context, tok *token.Token) error {
	if tok == nil {
		return fmt.Errorf("%w: nil token", ErrNotForUs)
	}
	if !r.wallet.Owns(tok) {
		return fmt.Errorf("%w: %s", ErrNotForUs, tok.UniquePubKey.Short())
	}

	attempts := max(r.policy.Attempts, 1)
	var err error
	for attempt := range attempts {
		err = r.verifier.Verify(ctx, tok)
		if err == nil || !verifier.IsRetryable(err) || attempt == attempts-1 {
			break
		}
		delay := r.policy.Delay(attempt)
		log.Transfer.Debug().
			Err(err).
			Str("token", tok.UniquePubKey.Short()).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("Token not yet verifiable")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (%v)", err, ctx.Err())
		case <-timer.C:
		}
	}

	if err != nil {
		log.Transfer.Warn().
			Err(err).
			Str("token", tok.UniquePubKey.Short()).
			Uint64("amount", tok.Amount).
			Msg("Token refused")
		if verifier.IsBurned(err) {
			return fmt.Errorf("%w: %w", ErrBurned, err)
		}
		return err
	}

	if err := r.wallet.Deposit(tok); err != nil {
		return err
	}
	log.Transfer.Info().
		Str("token", tok.UniquePubKey.Short()).
		Uint64("amount", tok.Amount).
		Msg("Token received")
	return nil
}
