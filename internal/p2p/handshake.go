package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// handshakeTimeout is the max time for a complete handshake exchange.
	handshakeTimeout = 10 * time.Second

	// maxHandshakeBytes limits handshake message size.
	maxHandshakeBytes = 4096
)

// HandshakeMessage is exchanged between peers to verify compatibility.
type HandshakeMessage struct {
	ProtocolVersion uint32     `json:"protocol_version"`
	GenesisHash     types.Hash `json:"genesis_hash"`
	NetworkID       string     `json:"network_id"`
}

func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol(n.config.NetworkID), func(stream network.Stream) {
		defer stream.Close()
		remote := stream.Conn().RemotePeer()
		_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

		var theirs HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&theirs); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(remote)).Msg("Handshake read failed")
			return
		}
		if err := json.NewEncoder(stream).Encode(n.handshakeMessage()); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(remote)).Msg("Handshake write failed")
			return
		}
		n.checkHandshake(remote, theirs)
	})
}

// doHandshake runs the dialer side of the handshake.
func (n *Node) doHandshake(id peer.ID) {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	stream, err := n.host.NewStream(ctx, id, HandshakeProtocol(n.config.NetworkID))
	if err != nil {
		// Peers of another network do not speak our handshake protocol at all.
		klog.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake stream failed")
		n.DisconnectPeer(id)
		return
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	if err := json.NewEncoder(stream).Encode(n.handshakeMessage()); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake send failed")
		return
	}
	stream.CloseWrite()

	var theirs HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&theirs); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake response read failed")
		return
	}
	n.checkHandshake(id, theirs)
}

func (n *Node) checkHandshake(id peer.ID, msg HandshakeMessage) {
	reason := n.validateHandshake(msg)
	if reason == "" {
		return
	}
	klog.P2P.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Msg("Handshake rejected, banning peer")
	n.bans.RecordOffense(id, PenaltyHandshakeFail, reason)
	n.DisconnectPeer(id)
}

// validateHandshake returns why msg is incompatible, or "" if it is not.
func (n *Node) validateHandshake(msg HandshakeMessage) string {
	if msg.NetworkID != n.config.NetworkID {
		return fmt.Sprintf("network mismatch: peer=%q local=%q", msg.NetworkID, n.config.NetworkID)
	}
	if msg.GenesisHash != n.config.Genesis {
		return fmt.Sprintf("genesis mismatch: peer=%s local=%s",
			msg.GenesisHash.Short(), n.config.Genesis.Short())
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d",
			msg.ProtocolVersion, MinProtocolVersion)
	}
	return ""
}

func (n *Node) handshakeMessage() HandshakeMessage {
	return HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		GenesisHash:     n.config.Genesis,
		NetworkID:       n.config.NetworkID,
	}
}
