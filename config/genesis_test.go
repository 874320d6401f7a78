package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

func TestGenesis_Validate_MainnetValid(t *testing.T) {
	g := MainnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("mainnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_TestnetValid(t *testing.T) {
	g := TestnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("testnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *Genesis)
	}{
		{"no network id", func(g *Genesis) { g.NetworkID = "" }},
		{"zero key", func(g *Genesis) { g.UniquePubKey = types.PublicKey{} }},
		{"zero supply", func(g *Genesis) { g.Supply = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := MainnetGenesis()
			tt.mutate(g)
			if err := g.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTestnetGenesisKey_MatchesMnemonic(t *testing.T) {
	mk, err := keys.MasterKeyFromMnemonic(TestnetMnemonic, "")
	if err != nil {
		t.Fatalf("MasterKeyFromMnemonic() error: %v", err)
	}
	kp, err := keys.Derive(mk, types.DerivationIndex{})
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}

	pub, err := TestnetGenesisKey()
	if err != nil {
		t.Fatalf("TestnetGenesisKey() error: %v", err)
	}
	if pub != kp.PublicKey {
		t.Error("testnet genesis key should be spendable by the testnet mnemonic")
	}
	if TestnetGenesis().UniquePubKey != pub {
		t.Error("TestnetGenesis should use TestnetGenesisKey")
	}
}

func TestGenesis_HashDiffersPerNetwork(t *testing.T) {
	mh, err := MainnetGenesis().Hash()
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	th, err := TestnetGenesis().Hash()
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if mh == th {
		t.Error("mainnet and testnet genesis hashes should differ")
	}

	again, _ := MainnetGenesis().Hash()
	if again != mh {
		t.Error("genesis hash should be deterministic")
	}
}

func TestGenesis_Params(t *testing.T) {
	g := MainnetGenesis()
	p := g.Params()
	if p.UniquePubKey != g.UniquePubKey || p.Supply != g.Supply {
		t.Errorf("Params() = %+v, want key and supply of genesis", p)
	}
}

func TestGenesisFor(t *testing.T) {
	if GenesisFor(Testnet).NetworkID != string(Testnet) {
		t.Error("GenesisFor(testnet) should return the testnet genesis")
	}
	if GenesisFor(Mainnet).NetworkID != string(Mainnet) {
		t.Error("GenesisFor(mainnet) should return the mainnet genesis")
	}
}

func TestGenesis_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	g := TestnetGenesis()
	if err := g.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("LoadGenesis() error: %v", err)
	}
	if *loaded != *g {
		t.Errorf("loaded genesis = %+v, want %+v", loaded, g)
	}

	want, _ := g.Hash()
	got, _ := loaded.Hash()
	if got != want {
		t.Error("hash changed across save/load")
	}
}

func TestLoadGenesis_Missing(t *testing.T) {
	if _, err := LoadGenesis(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing genesis file")
	}
}

func TestLoadGenesis_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	data := `{"network_id":"testnet","name":"x","timestamp":1,"supply":1,"premine":5}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGenesis(path); err == nil {
		t.Error("LoadGenesis() should reject unknown fields")
	}
}
