package nvmain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func uint64LaneLine(lanes [8]uint64) []byte {
	line := make([]byte, cachelineBytes)
	for i, v := range lanes {
		for b := 0; b < 8; b++ {
			line[i*8+b] = byte(v >> (8 * uint(b)))
		}
	}
	return line
}

// TestCompressedSizeUniformLineIsMaximallyCompressible documents a
// divergence from spec.md's S1 scenario text: a line where every byte
// is 0xFF (the "full flip" input) is in fact the best possible BDI
// case, not the worst — every lane equals every candidate base, so
// every delta is zero regardless of lane width k. See DESIGN.md.
func TestCompressedSizeUniformLineIsMaximallyCompressible(t *testing.T) {
	line := make([]byte, cachelineBytes)
	for i := range line {
		line[i] = 0xFF
	}
	size := compressedSize(line, true)
	assert.Less(t, size, cachelineBytes)
	assert.Equal(t, 0, compressBucket(size))
}

func TestCompressedSizeSingleByte(t *testing.T) {
	// S2 — single-byte flip: the k=2 candidate with base 0x0100 (the one
	// nonzero lane) leaves every delta zero, so the line compresses to 8 bytes.
	line := make([]byte, cachelineBytes)
	line[5] = 0x01
	size := compressedSize(line, true)
	assert.LessOrEqual(t, size, 40)
	assert.Contains(t, []int{0, 1}, compressBucket(size))
}

func TestCompressedSizeArithmeticSequence(t *testing.T) {
	// S3 — arithmetic sequence of eight little-endian uint64 lanes.
	var lanes [8]uint64
	for i := range lanes {
		lanes[i] = 0x1000 + uint64(i)
	}
	line := uint64LaneLine(lanes)

	size := compressedSize(line, true)
	assert.LessOrEqual(t, size, 32)
	assert.Equal(t, 0, compressBucket(size))
}

func TestCompressedSizeNeverExceedsLineLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.SliceOfN(rapid.Byte(), cachelineBytes, cachelineBytes).Draw(t, "line")
		size := compressedSize(line, false)
		assert.LessOrEqual(t, size, cachelineBytes)
		assert.GreaterOrEqual(t, size, 0)
	})
}

func TestCompressedSizeDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.SliceOfN(rapid.Byte(), cachelineBytes, cachelineBytes).Draw(t, "line")
		a := compressedSize(line, false)
		b := compressedSize(line, false)
		assert.Equal(t, a, b)
	})
}

// TestCompressedSizeRoundTrip is S5 in spirit: verify=true must never
// panic across random lines, i.e. every winning candidate's encode/
// decode round-trips exactly.
func TestCompressedSizeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.SliceOfN(rapid.Byte(), cachelineBytes, cachelineBytes).Draw(t, "line")
		require.NotPanics(t, func() {
			compressedSize(line, true)
		})
	})
}

func TestDecodeBDIRoundTripsEncode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.SampledFrom([]int{2, 4, 8}).Draw(t, "k")
		n := cachelineBytes / k

		lanes := make([]uint64, n)
		for i := range lanes {
			lanes[i] = rapid.Uint64Range(0, 1<<20).Draw(t, "lane")
		}
		base := lanes[0]

		cand := &bdiCandidate{k: k, base: base, lanes: lanes}
		for _, v := range lanes {
			deltaBase := int64(v) - int64(base)
			if deltaBase >= 0 && dataBytes(uint64(deltaBase)) <= 8 && uint64(deltaBase) < v {
				cand.selector = append(cand.selector, true)
				cand.baseDeltas = append(cand.baseDeltas, uint64(deltaBase))
				if s := dataBytes(uint64(deltaBase)); s > cand.deltaSizeBase {
					cand.deltaSizeBase = s
				}
			} else {
				cand.selector = append(cand.selector, false)
				cand.immdDeltas = append(cand.immdDeltas, v)
				if s := dataBytes(v); s > cand.deltaSizeImmd {
					cand.deltaSizeImmd = s
				}
			}
		}
		cand.compressed = 1 + 1 + k + (len(lanes)+7)/8 +
			len(cand.baseDeltas)*cand.deltaSizeBase + len(cand.immdDeltas)*cand.deltaSizeImmd

		stream := cand.encode()
		assert.Equal(t, cand.compressed, len(stream))

		decoded := decodeBDI(stream, n)
		for i, want := range lanes {
			assert.Equal(t, want, decoded[i])
		}
	})
}
