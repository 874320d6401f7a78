package wallet

import (
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/pkg/codec"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

const pendingVersion = 1

// InputProgress tracks one input of an in-flight transaction.
type InputProgress struct {
	Token     *token.Token
	Spend     *spend.Spend // nil until signed
	Published bool
}

// Pending is an in-flight transaction: its inputs are reserved until every
// spend is published and the transaction is committed.
type Pending struct {
	Tx     *tx.Transaction
	Reason []byte
	Inputs []InputProgress // in Tx input order
	Change []*token.Token  // outputs owned by this wallet

	// Outgoing are outputs for other holders, kept so a resumed send can
	// still hand them over.
	Outgoing []*token.Token
	Created  time.Time
}

// Hash is the transaction hash.
func (p *Pending) Hash() types.Hash {
	return p.Tx.Hash()
}

// Signed reports whether every input has a spend.
func (p *Pending) Signed() bool {
	for _, in := range p.Inputs {
		if in.Spend == nil {
			return false
		}
	}
	return true
}

// Published reports whether every spend has been published.
func (p *Pending) Published() bool {
	for _, in := range p.Inputs {
		if !in.Published {
			return false
		}
	}
	return true
}

// anyPublished reports whether at least one spend left the wallet.
func (p *Pending) anyPublished() bool {
	for _, in := range p.Inputs {
		if in.Published {
			return true
		}
	}
	return false
}

// input finds the progress entry of pub.
func (p *Pending) input(pub types.PublicKey) (int, bool) {
	for i, in := range p.Inputs {
		if in.Token.UniquePubKey == pub {
			return i, true
		}
	}
	return 0, false
}

func (p *Pending) clone() *Pending {
	c := *p
	c.Inputs = append([]InputProgress(nil), p.Inputs...)
	c.Change = append([]*token.Token(nil), p.Change...)
	c.Outgoing = append([]*token.Token(nil), p.Outgoing...)
	c.Reason = append([]byte(nil), p.Reason...)
	return &c
}

// Amount is the total of the reserved inputs.
func (p *Pending) Amount() uint64 {
	var total uint64
	for _, in := range p.Inputs {
		total += in.Token.Amount
	}
	return total
}

// Encode serialises p. A watch-only wallet hands the result to the wallet
// holding the keys for signing.
func (p *Pending) Encode() []byte {
	w := codec.NewWriter(512)
	w.Uint(pendingVersion)
	p.Tx.EncodeTo(w)
	w.Bytes(p.Reason)
	w.Uint(uint64(p.Created.Unix()))
	w.Uint(uint64(len(p.Inputs)))
	for _, in := range p.Inputs {
		in.Token.EncodeTo(w)
		w.Bool(in.Spend != nil)
		if in.Spend != nil {
			in.Spend.EncodeTo(w)
		}
		w.Bool(in.Published)
	}
	w.Uint(uint64(len(p.Change)))
	for _, c := range p.Change {
		c.EncodeTo(w)
	}
	w.Uint(uint64(len(p.Outgoing)))
	for _, o := range p.Outgoing {
		o.EncodeTo(w)
	}
	return w.Data()
}

// DecodePending parses the output of Encode.
func DecodePending(b []byte) (*Pending, error) {
	r := codec.NewReader(b)
	if v := r.Uint(); r.Err() == nil && v != pendingVersion {
		return nil, fmt.Errorf("unsupported pending version %d", v)
	}
	p := &Pending{}
	var err error
	if p.Tx, err = tx.DecodeFrom(r); err != nil {
		return nil, err
	}
	p.Reason = r.Bytes(spend.MaxReason)
	p.Created = time.Unix(int64(r.Uint()), 0).UTC()

	n := r.Count(tx.MaxInputs)
	for i := 0; i < n && r.Err() == nil; i++ {
		var in InputProgress
		if in.Token, err = token.DecodeFrom(r); err != nil {
			return nil, err
		}
		if r.Bool() {
			if in.Spend, err = spend.DecodeFrom(r); err != nil {
				return nil, err
			}
		}
		in.Published = r.Bool()
		p.Inputs = append(p.Inputs, in)
	}
	n = r.Count(tx.MaxOutputs)
	for i := 0; i < n && r.Err() == nil; i++ {
		c, err := token.DecodeFrom(r)
		if err != nil {
			return nil, err
		}
		p.Change = append(p.Change, c)
	}
	n = r.Count(tx.MaxOutputs)
	for i := 0; i < n && r.Err() == nil; i++ {
		o, err := token.DecodeFrom(r)
		if err != nil {
			return nil, err
		}
		p.Outgoing = append(p.Outgoing, o)
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	if len(p.Inputs) != len(p.Tx.Inputs) {
		return nil, fmt.Errorf("pending has %d inputs, transaction %d", len(p.Inputs), len(p.Tx.Inputs))
	}
	return p, nil
}
