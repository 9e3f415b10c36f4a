package gossip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryRegisterAndLookup(t *testing.T) {
	d := NewDirectory()
	d.Identify("peer1", []string{"/ip4/1.2.3.4/tcp/4001"}, "")
	d.Subscribe("peer1", "srv1234567890abc/ch1")
	d.RegisterPeerID("peer1", "FPRINT1")

	info, ok := d.Get("peer1")
	require.True(t, ok)
	require.Equal(t, "FPRINT1", info.Fingerprint)

	pid, ok := d.PeerIDForFingerprint("FPRINT1")
	require.True(t, ok)
	require.Equal(t, "peer1", pid)
}

func TestDirectoryPeersForTopics(t *testing.T) {
	d := NewDirectory()
	d.Subscribe("peer1", "t/ch1")
	d.Subscribe("peer2", "t/ch2")

	peers := d.PeersForTopics([]string{"t/ch1"})
	require.Len(t, peers, 1)
	require.Equal(t, "peer1", peers[0].PeerID)
}

func TestDirectoryRemoveClearsFingerprintIndex(t *testing.T) {
	d := NewDirectory()
	d.RegisterPeerID("peer1", "FP")
	d.Remove("peer1")

	_, ok := d.PeerIDForFingerprint("FP")
	require.False(t, ok)
}
