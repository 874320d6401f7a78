// Package record carries ledger records through generic paths (storage,
// gossip) as a closed set of kinds. A record is a varint kind tag followed by
// the kind's canonical encoding.
package record

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/codec"
	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Kind tags a record.
type Kind uint64

// Record kinds. Values are part of the wire format.
const (
	KindToken       Kind = 1
	KindTransaction Kind = 2
	KindSpend       Kind = 3
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindTransaction:
		return "transaction"
	case KindSpend:
		return "spend"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

// ErrUnknownKind is returned when decoding an unrecognised tag.
var ErrUnknownKind = errors.New("unknown record kind")

// Record is one of Token, Transaction or Spend. The set is closed.
type Record interface {
	Kind() Kind
	encodeBody(w *codec.Writer)
}

// Token wraps a token record.
type Token struct{ *token.Token }

// Transaction wraps a transaction record.
type Transaction struct{ *tx.Transaction }

// Spend wraps a spend record.
type Spend struct{ *spend.Spend }

// Kind implements Record.
func (Token) Kind() Kind { return KindToken }

// Kind implements Record.
func (Transaction) Kind() Kind { return KindTransaction }

// Kind implements Record.
func (Spend) Kind() Kind { return KindSpend }

func (r Token) encodeBody(w *codec.Writer)       { r.Token.EncodeTo(w) }
func (r Transaction) encodeBody(w *codec.Writer) { r.Transaction.EncodeTo(w) }
func (r Spend) encodeBody(w *codec.Writer)       { r.Spend.EncodeTo(w) }

// Encode returns kind tag followed by the record body.
func Encode(r Record) []byte {
	w := codec.NewWriter(256)
	w.Uint(uint64(r.Kind()))
	r.encodeBody(w)
	return w.Data()
}

// Hash is the content hash of a record.
func Hash(r Record) types.Hash {
	return crypto.TaggedHash(crypto.TagRecord, Encode(r))
}

// Decode parses a tagged record.
func Decode(b []byte) (Record, error) {
	r := codec.NewReader(b)
	kind := Kind(r.Uint())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	var (
		rec Record
		err error
	)
	switch kind {
	case KindToken:
		var t *token.Token
		t, err = token.DecodeFrom(r)
		rec = Token{t}
	case KindTransaction:
		var t *tx.Transaction
		t, err = tx.DecodeFrom(r)
		rec = Transaction{t}
	case KindSpend:
		var s *spend.Spend
		s, err = spend.DecodeFrom(r)
		rec = Spend{s}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint64(kind))
	}
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return rec, nil
}

// DecodeToken decodes a record that must be a token.
func DecodeToken(b []byte) (*token.Token, error) {
	rec, err := Decode(b)
	if err != nil {
		return nil, err
	}
	t, ok := rec.(Token)
	if !ok {
		return nil, fmt.Errorf("decode record: got %s, want token", rec.Kind())
	}
	return t.Token, nil
}

// DecodeSpend decodes a record that must be a spend.
func DecodeSpend(b []byte) (*spend.Spend, error) {
	rec, err := Decode(b)
	if err != nil {
		return nil, err
	}
	s, ok := rec.(Spend)
	if !ok {
		return nil, fmt.Errorf("decode record: got %s, want spend", rec.Kind())
	}
	return s.Spend, nil
}

// DecodeTransaction decodes a record that must be a transaction.
func DecodeTransaction(b []byte) (*tx.Transaction, error) {
	rec, err := Decode(b)
	if err != nil {
		return nil, err
	}
	t, ok := rec.(Transaction)
	if !ok {
		return nil, fmt.Errorf("decode record: got %s, want transaction", rec.Kind())
	}
	return t.Transaction, nil
}
