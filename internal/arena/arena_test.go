package arena

import (
	"bytes"
	"sync"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

func tinyArena() *Arena {
	return New(
		WithFixedSlots(16, 2),
		WithBigSlots(64, 2),
		WithHeapSize(256),
	)
}

func TestArenaAllocPicksSmallestFittingTier(t *testing.T) {
	a := tinyArena()

	small := a.Alloc(8)
	require.Equal(t, TierFixed, small.Tier())
	require.Len(t, small.Bytes, 8)
	small.Release()

	mid := a.Alloc(32)
	require.Equal(t, TierBigSlot, mid.Tier())
	mid.Release()

	big := a.Alloc(200)
	require.Equal(t, TierHeap, big.Tier())
}

func TestArenaFixedSlotsExhaustThenFallBackThroughTiers(t *testing.T) {
	a := tinyArena()

	b1 := a.Alloc(8)
	b2 := a.Alloc(8)
	require.Equal(t, TierFixed, b1.Tier())
	require.Equal(t, TierFixed, b2.Tier())

	// Fixed pool (2 slots) is exhausted; next small alloc should still fit
	// the big-slot tier since 8 <= bigSlotSize.
	b3 := a.Alloc(8)
	require.Equal(t, TierBigSlot, b3.Tier())

	b1.Release()
	b4 := a.Alloc(8)
	require.Equal(t, TierFixed, b4.Tier(), "released fixed slot should be reusable")
}

func TestArenaFallbackWhenAllTiersExhausted(t *testing.T) {
	a := tinyArena()
	blk := a.Alloc(1000) // exceeds heap size of 256
	require.Equal(t, TierFallback, blk.Tier())
	require.Len(t, blk.Bytes, 1000)

	stats := a.Stats()
	require.Equal(t, int64(1), stats.FallbackLive)
	require.Equal(t, int64(1), stats.FallbackTotal)

	blk.Release()
	stats = a.Stats()
	require.Equal(t, int64(0), stats.FallbackLive)
}

func TestArenaConcurrentAllocRelease(t *testing.T) {
	a := New(WithFixedSlots(32, 8), WithBigSlots(128, 8), WithHeapSize(4096))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				blk := a.Alloc(16)
				blk.Bytes[0] = 1
				blk.Release()
			}
		}()
	}
	wg.Wait()
}

func TestArenaReset(t *testing.T) {
	a := tinyArena()
	blk := a.Alloc(200)
	require.Equal(t, TierHeap, blk.Tier())

	a.Reset()
	blk2 := a.Alloc(200)
	require.Equal(t, TierHeap, blk2.Tier())
}

func TestFlateRoundTrip(t *testing.T) {
	encPool := NewFlateEncoderPool(flate.DefaultCompression)
	decPool := NewFlateDecoderPool()

	payload := bytes.Repeat([]byte("pak archive payload bytes"), 100)

	var compressed bytes.Buffer
	w, releaseW, err := encPool.Get(&compressed)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	releaseW()

	r, releaseR, err := decPool.Get(bytes.NewReader(compressed.Bytes()))
	require.NoError(t, err)
	defer releaseR()

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, payload, out.Bytes())
}
