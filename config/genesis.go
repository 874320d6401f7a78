package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Denomination constants.
// 1 coin = 10^12 base units. All token amounts are in base units.
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000 // 10^12 base units per coin
	MilliCoin = 1_000_000_000     // 10^9
	MicroCoin = 1_000_000         // 10^6
)

// TestnetMnemonic is the well-known mnemonic that owns the testnet genesis
// token. Anyone can restore it; testnet value is worthless.
const TestnetMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

// Genesis describes the root issuance of a network. Every verifier trusts
// exactly one genesis; changing it starts a new network.
type Genesis struct {
	NetworkID string `json:"network_id"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol,omitempty"`

	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	UniquePubKey types.PublicKey `json:"unique_pubkey"`
	Supply       uint64          `json:"supply"`
}

// Params returns the verification parameters of the genesis token.
func (g *Genesis) Params() token.GenesisParams {
	return token.GenesisParams{
		UniquePubKey: g.UniquePubKey,
		Supply:       g.Supply,
	}
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	pub, _ := types.HexToPublicKey("03cba4d0ee4c55f5ea620393a6e6e9dafe959bfa6ddff964221126a3e41ad0487d")
	return &Genesis{
		NetworkID:    string(Mainnet),
		Name:         "Klingnet Transfers Mainnet",
		Symbol:       "KGX",
		Timestamp:    1770734103, // 2026-02-10
		ExtraData:    "Klingnet Genesis",
		UniquePubKey: pub,
		Supply:       2_000_000 * Coin,
	}
}

var testnetKey = sync.OnceValues(func() (types.PublicKey, error) {
	mk, err := keys.MasterKeyFromMnemonic(TestnetMnemonic, "")
	if err != nil {
		return types.PublicKey{}, err
	}
	return keys.DerivePublic(mk.Public(), types.DerivationIndex{})
})

// TestnetGenesisKey returns the testnet genesis public key: the zero index
// under the master key of TestnetMnemonic.
func TestnetGenesisKey() (types.PublicKey, error) {
	return testnetKey()
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.NetworkID = string(Testnet)
	g.Name = "Klingnet Transfers Testnet"
	g.ExtraData = "Klingnet Testnet Genesis"
	g.Supply = 200_000 * Coin

	// A derivation failure leaves the zero key, which Validate rejects.
	g.UniquePubKey, _ = TestnetGenesisKey()
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// LoadGenesis reads a genesis file written by Save. Unknown fields are
// rejected.
func LoadGenesis(path string) (*Genesis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var g Genesis
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Save writes the genesis as indented JSON, replacing path atomically.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.NetworkID == "" {
		return fmt.Errorf("network_id is required")
	}
	return g.Params().Validate()
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Peers compare it during handshake to detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
