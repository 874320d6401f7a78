// Klingnet Transfers holder daemon. It joins the network, stores and
// republishes spends for other participants.
//
// Usage:
//
//	klingnetd [--testnet --dht-server ...] Run node
//	klingnetd --help                       Show help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-transfers/config"
	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/node"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, _, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	defer n.Stop()
	if err := n.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	klog.Logger.Info().Msg("Shutdown signal received")
	return nil
}
