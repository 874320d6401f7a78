// derive_key.go prints the master public key of a mnemonic along with the
// public key and spend address at the zero derivation index.
// Usage: go run scripts/derive_key.go "<mnemonic>"
package main

import (
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <mnemonic>")
		os.Exit(1)
	}
	master, err := keys.MasterKeyFromMnemonic(os.Args[1], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kp, err := keys.Derive(master, types.DerivationIndex{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer kp.Zero()

	fmt.Printf("master:  %s\n", master.Public())
	fmt.Printf("pubkey:  %s\n", kp.PublicKey)
	fmt.Printf("address: %s\n", crypto.SpendAddressOf(kp.PublicKey))
}
