package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerPublishAndReadOrdering(t *testing.T) {
	b := NewMemoryBroker(10)
	defer b.Close()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := b.Publish(ctx, "k", []byte(`{"n":`+string(rune('0'+i))+`}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "stream ids must be strictly increasing")
	}

	entries, err := b.Read(ctx, "k", ZeroID, time.Second, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
	}
}

// TestMemoryBrokerIDsOrderAcrossDoubleDigitSequence guards against an
// unpadded sequence component: within the same millisecond, seq 10 must
// still sort after seq 9 lexicographically (section 3's stream_id
// ordering invariant).
func TestMemoryBrokerIDsOrderAcrossDoubleDigitSequence(t *testing.T) {
	b := NewMemoryBroker(20)
	defer b.Close()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 15; i++ {
		id, err := b.Publish(ctx, "k", []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "stream ids must sort in publish order even past seq 9")
	}
}

func TestMemoryBrokerLatestIDEmptyKey(t *testing.T) {
	b := NewMemoryBroker(10)
	defer b.Close()
	id, err := b.LatestID(context.Background(), "never-published")
	require.NoError(t, err)
	assert.Equal(t, ZeroID, id)
}

func TestMemoryBrokerTailStartSeesOnlyLaterEntries(t *testing.T) {
	b := NewMemoryBroker(10)
	defer b.Close()
	ctx := context.Background()

	_, err := b.Publish(ctx, "k", []byte(`{"n":0}`))
	require.NoError(t, err)
	tail, err := b.LatestID(ctx, "k")
	require.NoError(t, err)
	_, err = b.Publish(ctx, "k", []byte(`{"n":1}`))
	require.NoError(t, err)

	entries, err := b.Read(ctx, "k", tail, time.Second, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"n":1}`, string(entries[0].EventJSON))
}

func TestMemoryBrokerDropsOldestOnOverflow(t *testing.T) {
	b := NewMemoryBroker(2)
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, "k", []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	entries, err := b.Read(ctx, "k", ZeroID, time.Second, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "d", string(entries[0].EventJSON))
	assert.Equal(t, "e", string(entries[1].EventJSON))
}

func TestMemoryBrokerReadBlocksThenWakesOnPublish(t *testing.T) {
	b := NewMemoryBroker(10)
	defer b.Close()
	ctx := context.Background()

	result := make(chan []Entry, 1)
	go func() {
		entries, err := b.Read(ctx, "k", ZeroID, 2*time.Second, 0)
		assert.NoError(t, err)
		result <- entries
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := b.Publish(ctx, "k", []byte(`{"woke":true}`))
	require.NoError(t, err)

	select {
	case entries := <-result:
		assert.Len(t, entries, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not wake up on Publish before the block timeout")
	}
}

func TestMemoryBrokerReadTimesOutWithEmptySliceNotError(t *testing.T) {
	b := NewMemoryBroker(10)
	defer b.Close()
	entries, err := b.Read(context.Background(), "never-published", ZeroID, 50*time.Millisecond, 0)
	require.NoError(t, err, "Read should time out without an error")
	assert.Empty(t, entries)
}
