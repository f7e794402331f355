// bdi.go - Base-Delta-Immediate compression codec
//
// BDI approximates a cacheline as a single base value plus narrow
// per-lane deltas, taken either against that base or against an
// implicit zero ("immediate"). The codec never stores the compressed
// line; it only reports the size a compressed representation would
// take, which the write-policy selector uses to decide how a write's
// flip count should be approximated.

package nvmain

import "fmt"

// bdiLaneWidths are the base-width candidates tried during search, in
// bytes. The BDI paper's fixed-width lane family.
var bdiLaneWidths = [3]int{2, 4, 8}

// CodecInvariantError is raised when the BDI codec's own round-trip
// verification fails. Per the codec's contract this is a developer
// bug, not a runtime condition: the caller is expected to treat it as
// fatal rather than recover and continue.
type CodecInvariantError struct {
	Base         uint64
	Delta        uint64
	Decompressed uint64
	Expected     uint64
	LaneIndex    int
}

func (e *CodecInvariantError) Error() string {
	return fmt.Sprintf("bdi codec invariant violation: lane %d base=0x%x delta=0x%x decompressed=0x%x expected=0x%x",
		e.LaneIndex, e.Base, e.Delta, e.Decompressed, e.Expected)
}

// bdiCandidate holds one (k, base) trial's bookkeeping, enough to
// reproduce both the compressed byte stream and the decompressed
// lanes for verification.
type bdiCandidate struct {
	k             int
	base          uint64
	deltaSizeBase int
	deltaSizeImmd int
	selector      []bool   // per lane, true = encoded against base
	baseDeltas    []uint64 // in lane order, only the selector==true lanes
	immdDeltas    []uint64 // in lane order, only the selector==false lanes
	lanes         []uint64 // every lane's raw value, for verification
	compressed    int
}

// laneValues reinterprets line as little-endian unsigned lanes of
// width k, zero-extended to 64 bits. line's length must be a multiple
// of k.
func laneValues(line []byte, k int) []uint64 {
	n := len(line) / k
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		var v uint64
		for b := 0; b < k; b++ {
			v |= uint64(line[i*k+b]) << (8 * uint(b))
		}
		out[i] = v
	}
	return out
}

// compressedSize runs the BDI search over a cacheline and returns the
// best compressed size in bytes, clamped to len(line) ("incompressible").
// When verify is true, the winning candidate is encoded and decoded
// and checked lane-by-lane against the original line; any mismatch
// panics with *CodecInvariantError, matching the codec's contract
// that verification failures are developer bugs, not recoverable
// runtime errors.
func compressedSize(line []byte, verify bool) int {
	n := len(line)
	best := n
	var bestCand *bdiCandidate

	for _, k := range bdiLaneWidths {
		data := laneValues(line, k)

		for _, base := range data {
			var baseDeltas, immdDeltas []uint64
			selector := make([]bool, 0, len(data))
			var deltaSizeBase, deltaSizeImmd int
			aborted := false

			for _, v := range data {
				deltaBase := int64(v) - int64(base)
				deltaImmd := v // delta against implicit zero

				selectImmd := false
				if deltaBase < 0 {
					selectImmd = true
				} else if uint64(deltaBase) >= deltaImmd {
					selectImmd = true
				}

				if selectImmd {
					size := dataBytes(deltaImmd)
					if size > 8 {
						aborted = true
						break
					}
					if size > deltaSizeImmd {
						deltaSizeImmd = size
					}
					immdDeltas = append(immdDeltas, deltaImmd)
					selector = append(selector, false)
				} else {
					size := dataBytes(uint64(deltaBase))
					if size > 8 {
						aborted = true
						break
					}
					if size > deltaSizeBase {
						deltaSizeBase = size
					}
					baseDeltas = append(baseDeltas, uint64(deltaBase))
					selector = append(selector, true)
				}
			}

			if aborted {
				continue
			}

			selectorBytes := (len(data) + 7) / 8
			size := 1 + 1 + k + selectorBytes +
				len(baseDeltas)*deltaSizeBase + len(immdDeltas)*deltaSizeImmd

			if size < best {
				best = size
				bestCand = &bdiCandidate{
					k:             k,
					base:          base,
					deltaSizeBase: deltaSizeBase,
					deltaSizeImmd: deltaSizeImmd,
					selector:      selector,
					baseDeltas:    baseDeltas,
					immdDeltas:    immdDeltas,
					lanes:         data,
					compressed:    size,
				}
			}
		}
	}

	if verify && best < n && bestCand != nil {
		verifyRoundTrip(bestCand)
	}

	return best
}

// encode produces the verification byte stream described in the
// codec's encoding layout: k, delta-size nibbles, base, packed
// selector bitmap (MSB-first within each byte, 1 = base), base-deltas,
// then immediate-deltas.
func (c *bdiCandidate) encode() []byte {
	out := make([]byte, 0, c.compressed)
	out = append(out, byte(c.k))
	out = append(out, byte(c.deltaSizeBase<<4)|byte(c.deltaSizeImmd))

	for i := 0; i < c.k; i++ {
		out = append(out, byte(c.base>>(8*uint(i))))
	}

	selBytes := (len(c.selector) + 7) / 8
	for g := 0; g < selBytes; g++ {
		var b byte
		for bit := 0; bit < 8; bit++ {
			idx := g*8 + bit
			if idx >= len(c.selector) {
				break
			}
			if c.selector[idx] {
				b |= 1 << uint(7-bit)
			}
		}
		out = append(out, b)
	}

	for _, d := range c.baseDeltas {
		for j := 0; j < c.deltaSizeBase; j++ {
			out = append(out, byte(d>>(8*uint(j))))
		}
	}
	for _, d := range c.immdDeltas {
		for j := 0; j < c.deltaSizeImmd; j++ {
			out = append(out, byte(d>>(8*uint(j))))
		}
	}

	return out
}

// decodeBDI reverses encode, reconstructing every lane's value in
// original lane order.
func decodeBDI(stream []byte, numLanes int) []uint64 {
	k := int(stream[0])
	dsb := int(stream[1]>>4) & 0xF
	dsi := int(stream[1]) & 0xF
	pos := 2

	var base uint64
	for i := 0; i < k; i++ {
		base |= uint64(stream[pos]) << (8 * uint(i))
		pos++
	}

	selBytes := (numLanes + 7) / 8
	selector := make([]bool, numLanes)
	for g := 0; g < selBytes; g++ {
		b := stream[pos]
		pos++
		for bit := 0; bit < 8; bit++ {
			idx := g*8 + bit
			if idx >= numLanes {
				break
			}
			selector[idx] = (b>>uint(7-bit))&1 == 1
		}
	}

	readDelta := func(size int) uint64 {
		var d uint64
		for j := 0; j < size; j++ {
			d |= uint64(stream[pos]) << (8 * uint(j))
			pos++
		}
		return d
	}

	lanes := make([]uint64, numLanes)
	for i := 0; i < numLanes; i++ {
		if selector[i] {
			lanes[i] = base + readDelta(dsb)
		} else {
			lanes[i] = readDelta(dsi)
		}
	}
	return lanes
}

// verifyRoundTrip encodes cand, decodes the result, and panics with
// *CodecInvariantError on the first lane that does not reproduce the
// original value.
func verifyRoundTrip(cand *bdiCandidate) {
	stream := cand.encode()
	if len(stream) != cand.compressed {
		panic(&CodecInvariantError{
			Base: cand.base, Delta: uint64(len(stream)),
			Decompressed: uint64(cand.compressed), Expected: uint64(cand.compressed),
		})
	}

	decoded := decodeBDI(stream, len(cand.lanes))
	for i, want := range cand.lanes {
		if decoded[i] != want {
			panic(&CodecInvariantError{
				Base:         cand.base,
				Decompressed: decoded[i],
				Expected:     want,
				LaneIndex:    i,
			})
		}
	}
}
