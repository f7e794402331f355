// controller.go - per-channel memory controller collaborator
//
// Real DRAM/PCRAM timing and command scheduling are out of scope for
// this core; it only needs something behind the MemoryController
// interface that can accept or reject requests so the write-flip
// accounting pipeline has something to dispatch through.

package nvmain

import "sync"

// MemoryController is the narrow surface the facade drives each
// channel's controller through.
type MemoryController interface {
	IsIssuable(req *MemRequest) (bool, *FailReason)
	IssueCommand(req *MemRequest) bool
	IssueAtomic(req *MemRequest) bool
}

// QueueController is a reference MemoryController that accepts any
// request while its outstanding count is below Depth, modeling only
// queue occupancy, not command timing.
type QueueController struct {
	Depth int

	mu          sync.Mutex
	outstanding int
}

// NewQueueController builds a controller that rejects once depth
// requests are outstanding at once.
func NewQueueController(depth int) *QueueController {
	return &QueueController{Depth: depth}
}

func (c *QueueController) IsIssuable(req *MemRequest) (bool, *FailReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding >= c.Depth {
		return false, &FailReason{Reason: "queue full"}
	}
	return true, nil
}

func (c *QueueController) IssueCommand(req *MemRequest) bool {
	ok, _ := c.IsIssuable(req)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.outstanding++
	c.mu.Unlock()
	return true
}

func (c *QueueController) IssueAtomic(req *MemRequest) bool {
	return c.IssueCommand(req)
}

// Release frees one outstanding slot, called once a request completes.
func (c *QueueController) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding > 0 {
		c.outstanding--
	}
}
