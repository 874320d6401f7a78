// Package crypto provides the cryptographic primitives of the transfer ledger.
package crypto

import (
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/zeebo/blake3"
)

// Domain tags keep hashes of different record kinds from colliding.
const (
	TagSpendAddress = "klingnet/spend-address/v1"
	TagTransaction  = "klingnet/transaction/v1"
	TagSpend        = "klingnet/spend/v1"
	TagRecord       = "klingnet/record/v1"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// TaggedHash computes BLAKE3-256 over a length-prefixed domain tag followed
// by the data.
func TaggedHash(tag string, data []byte) types.Hash {
	h := blake3.New()
	h.Write([]byte{byte(len(tag))})
	h.Write([]byte(tag))
	h.Write(data)
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SpendAddressOf derives the storage address of a token's spend record from
// the token's unique public key.
// Address = TaggedHash(TagSpendAddress, compressed_pubkey).
func SpendAddressOf(pub types.PublicKey) types.SpendAddress {
	return types.SpendAddress(TaggedHash(TagSpendAddress, pub[:]))
}
