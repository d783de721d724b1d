package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliable-transport/liveness"
)

func udpAddr(t *testing.T, s string) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestLookupUnknownNodeFails(t *testing.T) {
	r := New(nil, nil)
	_, ok := r.Lookup(42)
	require.False(t, ok)
}

func TestUpsertThenLookupReturnsLatestAddress(t *testing.T) {
	r := New(nil, nil)
	first := udpAddr(t, "127.0.0.1:10001")
	second := udpAddr(t, "127.0.0.1:10002")

	r.Upsert(1, first, 100)
	r.Upsert(1, second, 101)

	addr, ok := r.Lookup(1)
	require.True(t, ok)
	require.Equal(t, second, addr)
}

func TestUpsertRecordsActivityOnLiveness(t *testing.T) {
	lv := liveness.NewMonitor()
	r := New(lv, nil)
	addr := udpAddr(t, "127.0.0.1:10003")

	r.Upsert(5, addr, 1)

	require.True(t, lv.IsOnline(addr))
}

func TestRunIdleSweepMarksStaleBindingOffline(t *testing.T) {
	lv := liveness.NewMonitor()
	r := New(lv, nil)
	addr := udpAddr(t, "127.0.0.1:10004")
	r.Upsert(9, addr, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = r.RunIdleSweep(ctx, 5*time.Millisecond, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	require.Eventually(t, func() bool { return !lv.IsOnline(addr) }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

// TestUpsertKeepsStableSessionIDAcrossUpdates mirrors the diffing style
// telepresence's manager state assertions use to compare snapshots
// (cmd/traffic/cmd/manager/state/assert_test.go): take two snapshots
// around a re-Upsert and assert the only change is Address/LastSeq.
func TestUpsertKeepsStableSessionIDAcrossUpdates(t *testing.T) {
	r := New(nil, nil)
	first := udpAddr(t, "127.0.0.1:10007")
	second := udpAddr(t, "127.0.0.1:10008")

	r.Upsert(3, first, 1)
	before := r.Snapshot()[0]

	r.Upsert(3, second, 2)
	after := r.Snapshot()[0]

	require.Equal(t, before.SessionID, after.SessionID)
	require.NotEmpty(t, before.SessionID)

	if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(PeerBinding{}, "Address", "LastSeq")); diff != "" {
		t.Fatalf("binding identity fields drifted across update (-before +after):\n%s", diff)
	}
}

func TestSnapshotReturnsAllBindings(t *testing.T) {
	r := New(nil, nil)
	r.Upsert(1, udpAddr(t, "127.0.0.1:10005"), 1)
	r.Upsert(2, udpAddr(t, "127.0.0.1:10006"), 1)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
}
