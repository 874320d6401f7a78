package wallet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
)

// A watch-only wallet knows the master public key and nothing secret. It
// deposits, reports balances and records pending transactions like any
// other wallet. Its pending transactions are signed elsewhere:
//
//	p, _ := watch.RecordPending(t, outputs, reason)   // online
//	spends, _ := hot.Sign(p)                          // offline, holds the seed
//	watch.RecordSigned(p.Hash(), spends)              // online, then publish

// CreateWatchOnly initialises a wallet in dir that tracks pub, and returns
// it open.
func CreateWatchOnly(dir string, pub *keys.MasterPublicKey) (*Wallet, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create wallet dir: %w", err)
	}
	lock, err := acquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	if err := writeWatchKeyFile(keyFilePath(dir), pub); err != nil {
		lock.Close()
		return nil, err
	}
	w, err := open(dir, lock, nil, pub)
	if err != nil {
		return nil, err
	}
	log.Wallet.Info().Str("dir", dir).Msg("Watch-only wallet created")
	return w, nil
}

// OpenWatchOnly opens the wallet in dir from its master public key. No
// password is needed, and any wallet can be opened this way.
func OpenWatchOnly(dir string) (*Wallet, error) {
	lock, err := acquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	kf, err := readKeyFile(keyFilePath(dir))
	if err != nil {
		lock.Close()
		return nil, err
	}
	pub, err := kf.publicKey()
	if err != nil {
		lock.Close()
		return nil, err
	}
	return open(dir, lock, nil, pub)
}

// WatchOnly reports whether w was opened without its seed.
func (w *Wallet) WatchOnly() bool { return w.master == nil }

// Sign fills in the missing spends of p and returns them. p need not be
// pending in w: a wallet holding the seed signs transactions recorded by a
// watch-only copy of itself. Every unsigned input must derive from w.
func (w *Wallet) Sign(p *Pending) ([]*spend.Spend, error) {
	if w.master == nil {
		return nil, ErrWatchOnly
	}
	var signed []*spend.Spend
	for i := range p.Inputs {
		in := &p.Inputs[i]
		if in.Spend != nil {
			continue
		}
		kp, err := w.Signer(in.Token)
		if err != nil {
			return nil, err
		}
		sp, err := spend.Sign(p.Tx, in.Token, kp.Signer(), p.Reason)
		kp.Zero()
		if err != nil {
			return nil, err
		}
		in.Spend = sp
		signed = append(signed, sp)
	}
	log.Wallet.Debug().
		Str("tx", p.Hash().Short()).
		Int("signed", len(signed)).
		Msg("Transaction signed")
	return signed, nil
}
