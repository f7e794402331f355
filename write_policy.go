// write_policy.go - write policy selector
//
// After a write's BDI compressed size and flip tallies are known, this
// file decides which of {read-modify, per-column vector, per-
// granularity stripe, raw} flip count best approximates the write for
// the CompressUpdateBit statistic, keyed on (compressed-size bucket,
// number of updated columns).

package nvmain

// compressBucket maps a BDI compressed size in bytes to one of the
// five histogram buckets: [0,32]->0, (32,40]->1, (40,48]->2,
// (48,56]->3, (56,64]->4.
func compressBucket(size int) int {
	switch {
	case size <= 32:
		return 0
	case size <= 40:
		return 1
	case size <= 48:
		return 2
	case size <= 56:
		return 3
	default:
		return 4
	}
}

// rawFlipBits is the worst-case bit count attributed to a write whose
// compressed size exceeds 56 bytes: every cell of the 64-byte line is
// assumed rewritten regardless of the actual flip count.
const rawFlipBits = cachelineBytes * 8

// selectCompressFlips picks the flip-count value attributed to
// CompressUpdateBit for a write, per the bucket x columnsUpdated table.
// naiveFlips is the write's naive flip count (the RMW estimate);
// tally drives the per-granularity vector estimates; inlineVector is
// the inline g=4-split estimate used for the all-columns-updated case.
func selectCompressFlips(bucket, columnsUpdated, naiveFlips, inlineVector int, tally *flipTally) int {
	rmw := naiveFlips
	v := func(g int) int { return tally.vectorFlips(g) }

	switch bucket {
	case 0:
		switch {
		case columnsUpdated == 0:
			return 0
		case columnsUpdated <= 3:
			return rmw
		case columnsUpdated <= 5:
			return v(2)
		case columnsUpdated == 6:
			return v(4)
		case columnsUpdated == 7:
			return v(8)
		default: // 8
			return inlineVector
		}
	case 1:
		switch {
		case columnsUpdated == 0:
			return 0
		case columnsUpdated <= 2:
			return rmw
		case columnsUpdated <= 5:
			return v(2)
		case columnsUpdated == 6:
			return v(4)
		case columnsUpdated == 7:
			return v(8)
		default:
			return inlineVector
		}
	case 2:
		switch {
		case columnsUpdated == 0:
			return 0
		case columnsUpdated <= 1:
			return rmw
		case columnsUpdated <= 3:
			return v(2)
		case columnsUpdated <= 6:
			return v(4)
		case columnsUpdated == 7:
			return v(8)
		default:
			return inlineVector
		}
	case 3:
		switch {
		case columnsUpdated == 0:
			return 0
		case columnsUpdated <= 2:
			return v(2)
		case columnsUpdated <= 4:
			return v(4)
		case columnsUpdated <= 6:
			return v(8)
		case columnsUpdated == 7:
			return v(16)
		default:
			return inlineVector
		}
	default: // bucket 4: incompressible beyond 56 bytes
		return rawFlipBits
	}
}
