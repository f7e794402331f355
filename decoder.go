// decoder.go - address translation collaborator
//
// Address translation itself is out of scope for this core (it is an
// external collaborator per the facade's contract); this file defines
// the narrow interface the facade consumes and one reference
// implementation, a fixed-width-field linear decoder, sufficient to
// exercise channel dispatch in tests without modeling a real
// address-mapping-scheme catalog.

package nvmain

import "math/bits"

// FailReason explains why IsIssuable rejected a request.
type FailReason struct {
	Reason string
}

// Decoder translates a physical address into the hierarchical
// coordinate the rest of the system dispatches on. The original
// NVMain source called Translate with two different argument orders
// from IsIssuable versus IssueCommand/IssueAtomic/GeneratePrefetches;
// that inconsistency is treated here as a bug in the original, not a
// contract, so there is exactly one canonical signature.
type Decoder interface {
	Translate(phys uint64) (row, col, bank, rank, channel, subarray uint64)
}

// AddressFields describes the bit width of each hierarchical field,
// used by LinearDecoder to slice a physical address.
type AddressFields struct {
	RowBits      uint
	ColBits      uint
	BankBits     uint
	RankBits     uint
	ChannelBits  uint
	SubarrayBits uint
}

// mlog2 returns the number of bits needed to address n distinct
// values (0 for n<=1), matching the NVM::mlog2 helper the original
// uses to derive field widths from channel/rank/bank/row/col counts.
func mlog2(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

// NewAddressFields derives field widths from component counts the way
// SetConfig does in the original: MATHeight splits a physical row into
// a narrower row field and a subarray field when present.
func NewAddressFields(rows, cols, banks, ranks, channels, subarrays int) AddressFields {
	return AddressFields{
		RowBits:      mlog2(rows),
		ColBits:      mlog2(cols),
		BankBits:     mlog2(banks),
		RankBits:     mlog2(ranks),
		ChannelBits:  mlog2(channels),
		SubarrayBits: mlog2(subarrays),
	}
}

// LinearDecoder slices a physical address into contiguous bitfields in
// a fixed order: subarray, row, col, bank, rank, channel, from least
// to most significant. It is the one reference AddressTranslator this
// core ships; full address-mapping-scheme selection is out of scope.
type LinearDecoder struct {
	fields AddressFields
}

// NewLinearDecoder builds a decoder from the given field widths.
func NewLinearDecoder(fields AddressFields) *LinearDecoder {
	return &LinearDecoder{fields: fields}
}

func (d *LinearDecoder) Translate(phys uint64) (row, col, bank, rank, channel, subarray uint64) {
	shift := uint(0)

	take := func(width uint) uint64 {
		if width == 0 {
			return 0
		}
		mask := uint64(1)<<width - 1
		v := (phys >> shift) & mask
		shift += width
		return v
	}

	subarray = take(d.fields.SubarrayBits)
	row = take(d.fields.RowBits)
	col = take(d.fields.ColBits)
	bank = take(d.fields.BankBits)
	rank = take(d.fields.RankBits)
	channel = take(d.fields.ChannelBits)

	return row, col, bank, rank, channel, subarray
}
