// Package transfer runs the two sides of a payment: a sender that selects,
// builds, signs, publishes and commits, and a receiver that verifies an
// incoming token before depositing it.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/substrate"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Sender errors.
var (
	ErrNoRecipients     = errors.New("no recipients")
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrIncomplete means the transaction was signed but not every spend
	// reached the substrate. Its inputs stay reserved; Resume finishes it.
	ErrIncomplete = errors.New("transfer incomplete")
)

// Recipient is one payee of a send.
type Recipient struct {
	MasterPub *keys.MasterPublicKey
	Amount    uint64
	Metadata  []byte
}

// Receipt is the outcome of a finished send. Tokens go to the recipients
// out of band, in recipient order.
type Receipt struct {
	TxHash types.Hash
	Tokens []*token.Token
	Change []*token.Token
}

// Sender pays out of a wallet and publishes to a substrate.
type Sender struct {
	wallet *wallet.Wallet
	sub    substrate.Substrate
}

// NewSender creates a sender.
func NewSender(w *wallet.Wallet, sub substrate.Substrate) *Sender {
	return &Sender{wallet: w, sub: sub}
}

// output is a planned token of the transaction being built.
type output struct {
	pub      types.PublicKey
	owner    types.PublicKey
	idx      types.DerivationIndex
	metadata []byte
}

// Send pays every recipient in one transaction. The reason is signed into
// each spend.
//
// The wallet records the transaction before anything is signed and the
// signed spends before anything is published, so a failure part way leaves
// a pending entry that Resume can finish with the same records.
func (s *Sender) Send(ctx context.Context, recipients []Recipient, reason []byte) (*Receipt, error) {
	if s.wallet.WatchOnly() {
		return nil, fmt.Errorf("%w: prepare and sign offline", wallet.ErrWatchOnly)
	}
	p, tokens, err := s.prepare(recipients, reason)
	if err != nil {
		return nil, err
	}
	if err := s.finish(ctx, p); err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash: p.Hash(),
		Tokens: tokens[:len(recipients)],
		Change: tokens[len(recipients):],
	}, nil
}

// Prepare builds and records the transaction Send would, without signing
// it. A watch-only wallet exports the result with Encode; once the signed
// spends are back in the wallet, Resume publishes and commits.
func (s *Sender) Prepare(recipients []Recipient, reason []byte) (*wallet.Pending, error) {
	p, _, err := s.prepare(recipients, reason)
	return p, err
}

// prepare returns the recorded entry and the created tokens, recipients
// first.
func (s *Sender) prepare(recipients []Recipient, reason []byte) (*wallet.Pending, []*token.Token, error) {
	total, err := checkRecipients(recipients)
	if err != nil {
		return nil, nil, err
	}
	if len(reason) > spend.MaxReason {
		return nil, nil, fmt.Errorf("%w: %d bytes", spend.ErrReasonTooLarge, len(reason))
	}

	sel, err := s.wallet.SelectInputs(total)
	if err != nil {
		return nil, nil, err
	}

	plan := make([]output, 0, len(recipients)+1)
	outs := make([]tx.Output, 0, len(recipients)+1)
	for _, r := range recipients {
		idx, err := keys.NewIndex()
		if err != nil {
			return nil, nil, err
		}
		pub, err := keys.DerivePublic(r.MasterPub, idx)
		if err != nil {
			return nil, nil, fmt.Errorf("derive recipient key: %w", err)
		}
		plan = append(plan, output{pub: pub, owner: r.MasterPub.PublicKey(), idx: idx, metadata: r.Metadata})
		outs = append(outs, tx.Output{PubKey: pub, Amount: r.Amount})
	}
	if sel.Change > 0 {
		pub, idx, err := s.wallet.NewKey()
		if err != nil {
			return nil, nil, fmt.Errorf("derive change key: %w", err)
		}
		plan = append(plan, output{pub: pub, owner: s.wallet.MasterPublic().PublicKey(), idx: idx})
		outs = append(outs, tx.Output{PubKey: pub, Amount: sel.Change})
	}

	t, err := token.BuildTransaction(sel.Inputs, outs)
	if err != nil {
		return nil, nil, fmt.Errorf("build transaction: %w", err)
	}
	tokens := make([]*token.Token, len(plan))
	for i, o := range plan {
		if tokens[i], err = token.New(t, o.pub, o.owner, o.idx, o.metadata); err != nil {
			return nil, nil, err
		}
	}

	p, err := s.wallet.RecordPending(t, tokens, reason)
	if err != nil {
		return nil, nil, err
	}
	log.Transfer.Info().
		Str("tx", p.Hash().Short()).
		Int("recipients", len(recipients)).
		Uint64("amount", total).
		Uint64("change", sel.Change).
		Msg("Transaction prepared")
	return p, tokens, nil
}

// Resume finishes a pending transaction left by Prepare or an interrupted
// Send. The receipt carries the outgoing tokens the wallet kept for it.
func (s *Sender) Resume(ctx context.Context, txHash types.Hash) (*Receipt, error) {
	p, ok := s.wallet.PendingTx(txHash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", wallet.ErrUnknownPending, txHash.Short())
	}
	log.Transfer.Info().Str("tx", txHash.Short()).Msg("Resuming transfer")
	if err := s.finish(ctx, p); err != nil {
		return nil, err
	}
	return &Receipt{TxHash: txHash, Tokens: p.Outgoing, Change: p.Change}, nil
}

func checkRecipients(recipients []Recipient) (uint64, error) {
	if len(recipients) == 0 {
		return 0, ErrNoRecipients
	}
	var total uint64
	for i, r := range recipients {
		switch {
		case r.MasterPub == nil:
			return 0, fmt.Errorf("%w: recipient %d has no master public key", ErrInvalidRecipient, i)
		case r.Amount == 0:
			return 0, fmt.Errorf("%w: recipient %d amount is zero", ErrInvalidRecipient, i)
		case len(r.Metadata) > token.MaxMetadata:
			return 0, fmt.Errorf("%w: recipient %d: %w", ErrInvalidRecipient, i, token.ErrMetadataTooLarge)
		case r.Amount > tx.MaxAmount-total:
			return 0, fmt.Errorf("%w: total exceeds %d", ErrInvalidRecipient, uint64(tx.MaxAmount))
		}
		total += r.Amount
	}
	return total, nil
}

// finish signs what is unsigned, publishes what is unpublished and commits.
func (s *Sender) finish(ctx context.Context, p *wallet.Pending) error {
	h := p.Hash()

	if !p.Signed() {
		signed, err := s.wallet.Sign(p)
		if err != nil {
			// A watch-only wallet keeps the entry for offline signing.
			if abandonable(p) && !errors.Is(err, wallet.ErrWatchOnly) {
				if aerr := s.wallet.Abandon(h); aerr != nil {
					log.Transfer.Warn().Err(aerr).Str("tx", h.Short()).Msg("Failed to release inputs")
				}
			}
			return fmt.Errorf("sign %s: %w", h.Short(), err)
		}
		if err := s.wallet.RecordSigned(h, signed); err != nil {
			return err
		}
	}

	for i := range p.Inputs {
		in := &p.Inputs[i]
		if in.Published {
			continue
		}
		if err := s.sub.Put(ctx, in.Spend); err != nil {
			log.Transfer.Warn().
				Err(err).
				Str("tx", h.Short()).
				Str("input", in.Token.UniquePubKey.Short()).
				Msg("Publish failed")
			return fmt.Errorf("%w: %s: publish %s: %w", ErrIncomplete, h.Short(), in.Token.UniquePubKey.Short(), err)
		}
		if err := s.wallet.MarkPublished(h, in.Token.UniquePubKey); err != nil {
			return err
		}
		in.Published = true
	}

	if err := s.wallet.Commit(h); err != nil {
		return err
	}
	log.Transfer.Info().Str("tx", h.Short()).Msg("Transfer committed")
	return nil
}

// abandonable reports whether nothing of p has left the wallet yet.
func abandonable(p *wallet.Pending) bool {
	for _, in := range p.Inputs {
		if in.Published {
			return false
		}
	}
	return true
}
