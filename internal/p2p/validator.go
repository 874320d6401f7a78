package p2p

import (
	"errors"

	dhtrecord "github.com/libp2p/go-libp2p-record"
)

// spendValidator admits DHT values under /spend/ that are canonical sets of
// valid spends for the address in the key.
type spendValidator struct{}

var _ dhtrecord.Validator = spendValidator{}

// Validate implements dhtrecord.Validator.
func (spendValidator) Validate(key string, value []byte) error {
	addr, err := parseSpendKey(key)
	if err != nil {
		return err
	}
	spends, err := DecodeSpendSet(value)
	if err != nil {
		return err
	}
	return checkSpendSet(addr, spends)
}

// Select implements dhtrecord.Validator. The value carrying the most spends
// wins so that a conflict, once stored, is never replaced by a set that
// hides it. Ties go to the earliest value.
func (spendValidator) Select(key string, values [][]byte) (int, error) {
	best, most := -1, 0
	for i, v := range values {
		spends, err := DecodeSpendSet(v)
		if err != nil {
			continue
		}
		if len(spends) > most {
			best, most = i, len(spends)
		}
	}
	if best < 0 {
		return 0, errors.New("no valid spend set")
	}
	return best, nil
}

// newValidator returns the namespaced validator for the node's DHT.
func newValidator() dhtrecord.Validator {
	return dhtrecord.NamespacedValidator{
		spendNamespace: spendValidator{},
		"pk":           dhtrecord.PublicKeyValidator{},
	}
}
