package p2p

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	dhtrecord "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Protocol versions advertised during handshake.
const (
	ProtocolVersion    uint32 = 1
	MinProtocolVersion uint32 = 1
)

// defaultNetwork scopes protocols when no NetworkID is configured.
const defaultNetwork = "dev"

// spendNamespace is the DHT record namespace holding spend sets.
const spendNamespace = "spend"

// DHTProtocolPrefix isolates the DHT of one network. Peers of other
// networks, and the public IPFS DHT, never exchange records with it.
func DHTProtocolPrefix(network string) protocol.ID {
	return protocol.ID("/klingnet-transfers/" + network)
}

// SpendTopic is the GossipSub topic on which spends are replicated.
func SpendTopic(network string) string {
	return fmt.Sprintf("/klingnet-transfers/%s/spend/1.0.0", network)
}

// HandshakeProtocol is the stream protocol for peer compatibility checks.
func HandshakeProtocol(network string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/klingnet-transfers/%s/handshake/1.0.0", network))
}

// SpendKey is the DHT key of the spend set at addr.
func SpendKey(addr types.SpendAddress) string {
	return "/" + spendNamespace + "/" + addr.String()
}

func parseSpendKey(key string) (types.SpendAddress, error) {
	ns, rest, err := dhtrecord.SplitKey(key)
	if err != nil {
		return types.SpendAddress{}, err
	}
	if ns != spendNamespace {
		return types.SpendAddress{}, fmt.Errorf("namespace %q is not %q", ns, spendNamespace)
	}
	return types.HexToSpendAddress(rest)
}
