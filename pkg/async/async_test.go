package async_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nostrhub/relaycore/pkg/async"
)

func TestChanFIFOOrder(t *testing.T) {
	c := async.NewChan[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(i))
	}
	for i := 0; i < 5; i++ {
		v, ok := c.Recv()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestChanBlocksUntilSend(t *testing.T) {
	c := async.NewChan[string]()
	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	go func() {
		defer wg.Done()
		v, ok := c.Recv()
		require.True(t, ok)
		got = v
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Send("hello"))
	wg.Wait()
	require.Equal(t, "hello", got)
}

func TestChanCloseDrainsThenEOF(t *testing.T) {
	c := async.NewChan[int]()
	require.NoError(t, c.Send(1))
	require.NoError(t, c.Send(2))
	c.Close()

	v, ok := c.Recv()
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = c.Recv()
	require.True(t, ok)
	require.Equal(t, 2, v)
	_, ok = c.Recv()
	require.False(t, ok)
}

func TestChanSendAfterCloseFails(t *testing.T) {
	c := async.NewChan[int]()
	c.Close()
	require.ErrorIs(t, c.Send(1), async.ErrChannelClosed)
}

func TestFutureResolve(t *testing.T) {
	f := async.NewFuture[int]()
	go f.Resolve(42)
	v, err := f.Wait()
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestFutureReject(t *testing.T) {
	f := async.NewFuture[int]()
	wantErr := errors.New("boom")
	go f.Reject(wantErr)
	_, err := f.Wait()
	require.Equal(t, wantErr, err)
}

func TestFutureSecondCompletionIgnored(t *testing.T) {
	f := async.NewFuture[int]()
	f.Resolve(1)
	f.Resolve(2)
	f.Reject(errors.New("ignored"))
	v, err := f.Wait()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}
