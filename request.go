// request.go - memory request and address types

package nvmain

import "github.com/google/uuid"

// RequestType distinguishes reads from writes. Atomics reuse these
// same types; "atomic" is a dispatch path (IssueAtomic), not a type.
type RequestType int

const (
	Read RequestType = iota
	Write
)

func (r RequestType) String() string {
	if r == Read {
		return "READ"
	}
	return "WRITE"
}

// MemAddress carries both the physical address an upper simulator
// issued and, once IssueCommand/IssueAtomic has run, the translated
// hierarchical coordinate.
type MemAddress struct {
	Physical uint64

	translated bool
	Row        uint64
	Col        uint64
	Bank       uint64
	Rank       uint64
	Channel    uint64
	Subarray   uint64
}

// SetTranslated records the decoder's output on this address.
func (a *MemAddress) SetTranslated(row, col, bank, rank, channel, subarray uint64) {
	a.Row, a.Col, a.Bank, a.Rank, a.Channel, a.Subarray = row, col, bank, rank, channel, subarray
	a.translated = true
}

// MemRequest is one memory access as seen by the facade: an address,
// its type, and — for writes — the before/after data needed by the
// flip-accounting pipeline.
type MemRequest struct {
	ID      uuid.UUID
	Address MemAddress
	Type    RequestType

	// OldData and NewData must be equal length for writes; reads
	// leave them empty.
	OldData []byte
	NewData []byte

	ThreadID int

	IsPrefetch bool
	// Owner identifies the System that issued this request, used to
	// route RequestComplete calls back to the right facade instance
	// when one facade forwards to a parent (see System.Parent).
	Owner any
}

// NewMemRequest stamps a fresh request with a random ID, carried into
// TraceLine.ReqID and log messages for correlation; it has no bearing
// on accounting.
func NewMemRequest(phys uint64, typ RequestType) *MemRequest {
	return &MemRequest{
		ID:      uuid.New(),
		Address: MemAddress{Physical: phys},
		Type:    typ,
	}
}
