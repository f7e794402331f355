package nvmain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	s := NewSystem()
	cfg := &Config{
		Rows:               16,
		Cols:               16,
		Banks:              1,
		Ranks:              1,
		Channels:           1,
		MemoryPrefetcher:   "none",
		PrefetchBufferSize: 4,
	}
	require.NoError(t, s.SetConfig(cfg))
	return s
}

func writeRequest(phys uint64, old, newData []byte) *MemRequest {
	req := NewMemRequest(phys, Write)
	req.OldData = old
	req.NewData = newData
	return req
}

func TestIssueCommandBeforeConfigureIsRejected(t *testing.T) {
	s := NewSystem()
	req := NewMemRequest(0, Read)
	ok, err := s.IssueCommand(req)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// TestIssueCommandS1FullFlip is S1 — every bit of a 64-byte line
// flips. Its naive/column/CompressUpdateBit outcomes match spec.md's
// scenario exactly; each updateBit position counts 8 flips (one per
// column, see DESIGN.md). Its claimed "incompressible, bucket
// 4" compressed-size outcome does not: a uniform 0xFF line is the best
// possible BDI case (every lane equals every candidate base, all
// deltas zero), so it compresses to a handful of bytes, bucket 0 — see
// DESIGN.md's open-question log for this divergence. columnsUpdated
// == 8 lands on the table's "Vinline" cell in every bucket row, and a
// full-line flip happens to make Vinline equal the raw 512-bit count
// regardless of bucket, so CompressUpdateBit still matches.
func TestIssueCommandS1FullFlip(t *testing.T) {
	s := newTestSystem(t)

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	for i := range newData {
		newData[i] = 0xFF
	}

	wantBucket := compressBucket(compressedSize(newData, false))

	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(512), s.readModifiedUpdateBit)
	assert.Equal(t, uint64(1), s.updateColumns[columnCount])
	assert.Equal(t, uint64(1), s.compressByte[wantBucket])
	assert.Equal(t, uint64(512), s.compressUpdateBit)
	for _, v := range s.updateBit {
		assert.Equal(t, uint64(columnCount), v)
	}
}

func TestIssueCommandS2SingleByteFlip(t *testing.T) {
	s := newTestSystem(t)

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	newData[5] = 0x01

	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(1), s.readModifiedUpdateBit)
	assert.Equal(t, uint64(1), s.updateColumns[1])
	assert.Equal(t, uint64(1), s.compressUpdateBit)
	assert.LessOrEqual(t, s.compressByte[0]+s.compressByte[1], uint64(1))
}

func TestIssueCommandS3ArithmeticSequence(t *testing.T) {
	s := newTestSystem(t)

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	for i := 0; i < 8; i++ {
		v := uint64(0x1000 + i)
		for b := 0; b < 8; b++ {
			newData[i*8+b] = byte(v >> (8 * uint(b)))
		}
	}

	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(1), s.compressByte[0])
	assert.Equal(t, uint64(1), s.updateColumns[columnCount])
}

func TestIssueCommandS4ColumnLocalCluster(t *testing.T) {
	s := newTestSystem(t)

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	newData[24] = 0x05
	newData[25] = 0x03

	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(1), s.updateColumns[1])
	assert.Equal(t, uint64(4), s.readModifiedUpdateBit)
}

func TestIssueCommandZeroWrite(t *testing.T) {
	s := newTestSystem(t)

	line := make([]byte, cachelineBytes)
	for i := range line {
		line[i] = byte(i)
	}

	ok, err := s.IssueCommand(writeRequest(0, line, line))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(0), s.readModifiedUpdateBit)
	assert.Equal(t, uint64(1), s.updateColumns[0])
}

// TestRequestCompletePrefetchEviction is S6 — a prefetch buffer of
// size 2 that sees three completions evicts the oldest once,
// incrementing unsuccessfulPrefetches and holding only the last two.
func TestRequestCompletePrefetchEviction(t *testing.T) {
	s := NewSystem()
	require.NoError(t, s.SetConfig(&Config{
		Rows: 16, Cols: 16, Banks: 1, Ranks: 1, Channels: 1,
		MemoryPrefetcher:   "none",
		PrefetchBufferSize: 2,
	}))

	pf := func(phys uint64) *MemRequest {
		req := NewMemRequest(phys, Read)
		req.IsPrefetch = true
		req.Owner = s
		return req
	}

	require.True(t, s.RequestComplete(pf(100)))
	require.True(t, s.RequestComplete(pf(200)))
	require.True(t, s.RequestComplete(pf(300)))

	assert.Equal(t, uint64(1), s.unsuccessfulPrefetches)
	require.Len(t, s.prefetchBuffer, 2)
	assert.Equal(t, uint64(200), s.prefetchBuffer[0].Address.Physical)
	assert.Equal(t, uint64(300), s.prefetchBuffer[1].Address.Physical)
}

func TestRequestCompleteForwardsToParent(t *testing.T) {
	parent := newTestSystem(t)
	child := newTestSystem(t)
	child.Parent = parent

	req := NewMemRequest(0, Read)
	req.Owner = parent // not child

	assert.True(t, child.RequestComplete(req))
}

func TestPendingRequestRetriedOnCompletion(t *testing.T) {
	s := NewSystem()
	require.NoError(t, s.SetConfig(&Config{
		Rows: 16, Cols: 16, Banks: 1, Ranks: 1, Channels: 1,
		MemoryPrefetcher: "none",
	}))

	req := NewMemRequest(0, Read)
	s.EnqueuePendingMemoryRequests(req)
	require.Len(t, s.pending, 1)

	done := NewMemRequest(8, Read)
	done.Owner = s
	s.RequestComplete(done)

	assert.Len(t, s.pending, 0)
	assert.Equal(t, uint64(1), s.totalReadRequests)
}

// TestFlipTotalsAcrossWrites is property §8.5/§8.6: summing naive
// flips, per-bit counters and column histogram across many random
// writes reproduces the global counters exactly.
func TestFlipTotalsAcrossWrites(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewSystem()
		require.NoError(t, s.SetConfig(&Config{
			Rows: 16, Cols: 16, Banks: 1, Ranks: 1, Channels: 1,
			MemoryPrefetcher: "none",
		}))

		n := rapid.IntRange(1, 8).Draw(t, "n")
		var wantNaive uint64
		var wantWrites uint64

		for i := 0; i < n; i++ {
			old := rapid.SliceOfN(rapid.Byte(), cachelineBytes, cachelineBytes).Draw(t, "old")
			newData := rapid.SliceOfN(rapid.Byte(), cachelineBytes, cachelineBytes).Draw(t, "new")

			tally := accountFlips(old, newData)
			wantNaive += uint64(tally.naiveFlips)
			wantWrites++

			ok, err := s.IssueCommand(writeRequest(0, old, newData))
			require.NoError(t, err)
			require.True(t, ok)
		}

		assert.Equal(t, wantNaive, s.readModifiedUpdateBit)
		assert.Equal(t, wantWrites, s.totalWriteRequests)

		var bitSum, colSum, bucketSum uint64
		for _, v := range s.updateBit {
			bitSum += v
		}
		for _, v := range s.updateColumns {
			colSum += v
		}
		for _, v := range s.compressByte {
			bucketSum += v
		}
		assert.Equal(t, s.readModifiedUpdateBit, bitSum)
		assert.Equal(t, wantWrites, colSum)
		assert.Equal(t, wantWrites, bucketSum)
	})
}

// fixedChannelDecoder always reports the given channel, used to drive
// the decoder-underrun path without needing a real geometry that can
// produce an out-of-range channel index.
type fixedChannelDecoder struct{ channel uint64 }

func (d fixedChannelDecoder) Translate(phys uint64) (row, col, bank, rank, channel, subarray uint64) {
	return 0, 0, 0, 0, d.channel, 0
}

// TestIssueCommandRoutesByChannel exercises multi-channel dispatch:
// with Rows=16,Cols=16,Banks=2,Ranks=1,Channels=2 and no MATHeight,
// LinearDecoder's fixed bit order (subarray,row,col,bank,rank,channel
// from the LSB) places the channel field at bit 9 (4 row + 4 col + 1
// bank + 0 rank bits below it). Two writes to addresses differing
// only in that bit must land on two distinct QueueControllers.
func TestIssueCommandRoutesByChannel(t *testing.T) {
	s := NewSystem()
	require.NoError(t, s.SetConfig(&Config{
		Rows: 16, Cols: 16, Banks: 2, Ranks: 1, Channels: 2,
		MemoryPrefetcher: "none",
	}))

	const channelBit = uint64(1) << 9

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	newData[0] = 1

	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.IssueCommand(writeRequest(channelBit, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	c0, ok := s.controllers[0].(*QueueController)
	require.True(t, ok)
	c1, ok := s.controllers[1].(*QueueController)
	require.True(t, ok)

	assert.Equal(t, 1, c0.outstanding)
	assert.Equal(t, 1, c1.outstanding)
}

// TestIssueCommandDecoderUnderrun drives a decoder that reports a
// channel index beyond the configured controller count, confirming
// IssueCommand surfaces ErrDecoderUnderrun rather than panicking on
// the out-of-range controllers[channel] access.
func TestIssueCommandDecoderUnderrun(t *testing.T) {
	s := newTestSystem(t) // single channel (index 0 only)
	s.Decoder = fixedChannelDecoder{channel: 5}

	ok, err := s.IssueCommand(writeRequest(0, make([]byte, cachelineBytes), make([]byte, cachelineBytes)))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDecoderUnderrun)
}

// TestSetConfigWiresPreTraceFile is the pre-trace counterpart of the
// channel-routing tests above: PrintPreTrace must make SetConfig open
// the resolved trace file and wire it as s.Trace, and an accepted
// write must actually reach it.
func TestSetConfigWiresPreTraceFile(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "out.nvt")

	s := NewSystem()
	require.NoError(t, s.SetConfig(&Config{
		Rows: 16, Cols: 16, Banks: 1, Ranks: 1, Channels: 1,
		MemoryPrefetcher: "none",
		PreTraceFile:     tracePath,
		PrintPreTrace:    true,
	}))
	require.NotNil(t, s.Trace)

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	newData[0] = 1
	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Close())

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0 ")
}

// TestSetConfigEchoOnlyPreTraceDoesNotOpenFile confirms EchoPreTrace
// alone (PrintPreTrace false) wires a Trace writer without creating a
// file, matching the original's guard that only calls SetTraceFile
// when PrintPreTrace is set.
func TestSetConfigEchoOnlyPreTraceDoesNotOpenFile(t *testing.T) {
	s := NewSystem()
	require.NoError(t, s.SetConfig(&Config{
		Rows: 16, Cols: 16, Banks: 1, Ranks: 1, Channels: 1,
		MemoryPrefetcher: "none",
		EchoPreTrace:     true,
	}))
	require.NotNil(t, s.Trace)
	assert.Nil(t, s.traceFile)

	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	ok, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegisterStatsSnapshot(t *testing.T) {
	s := newTestSystem(t)
	old := make([]byte, cachelineBytes)
	newData := make([]byte, cachelineBytes)
	newData[0] = 1
	_, err := s.IssueCommand(writeRequest(0, old, newData))
	require.NoError(t, err)

	s.RegisterStats()
	snap := s.Stats.Snapshot()
	assert.Equal(t, uint64(1), snap["totalWriteRequests"])
	assert.Contains(t, snap, "updateColumns.1")
}
