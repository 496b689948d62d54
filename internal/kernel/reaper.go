package kernel

import (
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/nros-project/corekernel/internal/mm"
)

var reaperLog = log.New(os.Stderr, "[reaper] ", log.LstdFlags)

// Reaper periodically drains idle pages out of each node's NCache,
// grounded on SimonWaldherr-tinySQL's internal/storage/scheduler.go
// Scheduler (cron.New(cron.WithSeconds()) plus AddFunc), collapsed
// here to one fixed job instead of a user-registered job catalog since
// this reaper has exactly one thing to do.
type Reaper struct {
	cron       *cron.Cron
	global     *mm.GlobalMemory
	targetFree int
	entryID    cron.EntryID
}

// NewReaper builds a reaper that, once started, reaps every node in
// global down toward targetFreePct percent free capacity on the
// schedule described by cronExpr (standard 5-field cron, or a
// "@every ..." descriptor as robfig/cron also accepts).
func NewReaper(global *mm.GlobalMemory, cronExpr string, targetFreePct int) (*Reaper, error) {
	r := &Reaper{
		cron:       cron.New(),
		global:     global,
		targetFree: targetFreePct,
	}
	id, err := r.cron.AddFunc(cronExpr, r.reapOnce)
	if err != nil {
		return nil, err
	}
	r.entryID = id
	return r, nil
}

// Start begins the cron scheduler. Non-blocking.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for any in-flight run to finish.
func (r *Reaper) Stop() { <-r.cron.Stop().Done() }

func (r *Reaper) reapOnce() {
	for _, node := range r.global.NonEmptyNodes() {
		nc := r.global.NodeCache(node)
		r.reapNode(node, nc)
	}
}

func (r *Reaper) reapNode(node mm.NodeID, nc *mm.NCache) {
	size := nc.Size()
	if size == 0 {
		return
	}
	freePct := int(nc.Free() * 100 / size)
	if freePct <= r.targetFree {
		reaperLog.Printf("node %d: %s free of %s (%d%%), at or below target, nothing to reap",
			node, humanize.Bytes(nc.Free()), humanize.Bytes(size), freePct)
		return
	}

	// freePct exceeds the target: this node is sitting on more idle
	// capacity than it needs, so drain some of it back out.
	scratch := make([]mm.Frame, 32)
	baseReaped := nc.ReapBasePages(scratch)
	largeScratch := make([]mm.Frame, 8)
	largeReaped := nc.ReapLargePages(largeScratch)

	reaperLog.Printf("node %d: reaped %d base pages, %d large pages; allocated=%s size=%s",
		node, baseReaped, largeReaped, humanize.Bytes(nc.Allocated()), humanize.Bytes(nc.Size()))
}
