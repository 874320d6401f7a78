package p2p

import (
	"context"
	"fmt"

	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/pkg/record"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

func (n *Node) startGossip() error {
	ps, err := pubsub.NewGossipSub(n.ctx, n.host,
		pubsub.WithMaxMessageSize(maxGossipSize),
	)
	if err != nil {
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	name := SpendTopic(n.config.NetworkID)
	if err := ps.RegisterTopicValidator(name, n.validateGossip); err != nil {
		return fmt.Errorf("register spend validator: %w", err)
	}
	if n.topic, err = ps.Join(name); err != nil {
		return fmt.Errorf("join spend topic: %w", err)
	}
	if n.sub, err = n.topic.Subscribe(); err != nil {
		return fmt.Errorf("subscribe spend topic: %w", err)
	}
	go n.readLoop()
	return nil
}

// validateGossip drops, and penalises the sender of, anything that is not a
// validly signed spend. Invalid spends are never forwarded.
func (n *Node) validateGossip(_ context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if from == n.host.ID() {
		return pubsub.ValidationAccept
	}
	s, err := record.DecodeSpend(msg.Data)
	if err != nil {
		n.bans.RecordOffense(from, PenaltyMalformed, "malformed spend gossip")
		return pubsub.ValidationReject
	}
	if err := s.Verify(); err != nil {
		n.bans.RecordOffense(from, PenaltyInvalidSpend, "invalid spend gossip")
		return pubsub.ValidationReject
	}
	msg.ValidatorData = s
	return pubsub.ValidationAccept
}

func (n *Node) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		s, ok := msg.ValidatorData.(*spend.Spend)
		if !ok {
			continue
		}
		if err := n.holder.Put(n.ctx, s); err != nil {
			klog.P2P.Debug().Err(err).Str("address", s.Address().Short()).Msg("Failed to hold gossiped spend")
			continue
		}
		klog.P2P.Debug().
			Str("address", s.Address().Short()).
			Str("from", shortID(msg.ReceivedFrom)).
			Msg("Spend received")
	}
}

// publish gossips s and reports whether any peer subscribed to the topic
// was there to take it.
func (n *Node) publish(ctx context.Context, s *spend.Spend) bool {
	if len(n.topic.ListPeers()) == 0 {
		return false
	}
	if err := n.topic.Publish(ctx, record.Encode(record.Spend{Spend: s})); err != nil {
		klog.P2P.Debug().Err(err).Str("address", s.Address().Short()).Msg("Spend gossip failed")
		return false
	}
	return true
}
