// datasize.go - width-of-value helper for the BDI codec

package nvmain

import "math/bits"

// dataBytes returns the smallest number of whole bytes needed to
// represent v as an unsigned integer, with the convention that zero
// needs zero bytes.
//
// Equivalent to scanning i in {8,16,...,64} for the smallest mask
// 1<<i - 1 that v fits under, then returning ceil(i/8); bits.Len64
// gives the same answer directly from the position of the highest set
// bit.
func dataBytes(v uint64) int {
	if v == 0 {
		return 0
	}
	return (bits.Len64(v) + 7) / 8
}
