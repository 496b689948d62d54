package replica

// writeRequest is one submission to the ordered log: an op plus a
// one-shot result channel, mirroring the WorkRequest/WorkResult split
// internal/storage/concurrency.go uses for its worker pool, collapsed
// here to a single consumer since write-ops must linearize.
type writeRequest struct {
	op       WriteOp
	resultCh chan dispatchResult
}

type dispatchResult struct {
	resp NodeResult
	err  error
}

// Log is the single ordered write pipeline: every write-op submitted
// through it is applied by exactly one goroutine, in submission
// order, satisfying the spec's linearizability requirement for
// write-ops within a replica. Reads never go through the Log; they
// call KernelNode.Dispatch directly and take a read lock, so they
// never block behind the write queue.
type Log struct {
	node   *KernelNode
	submit chan writeRequest
	done   chan struct{}
}

// NewLog starts the single writer goroutine over node, with a
// submission queue of the given depth.
func NewLog(node *KernelNode, queueDepth int) *Log {
	l := &Log{
		node:   node,
		submit: make(chan writeRequest, queueDepth),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Log) run() {
	defer close(l.done)
	for req := range l.submit {
		resp, err := l.node.dispatchMut(req.op)
		req.resultCh <- dispatchResult{resp: resp, err: err}
	}
}

// Submit enqueues op and blocks until it has been applied, returning
// its response. Every write-op runs to completion before the next is
// applied; there is no cancellation inside dispatch_mut.
func (l *Log) Submit(op WriteOp) (NodeResult, error) {
	req := writeRequest{op: op, resultCh: make(chan dispatchResult, 1)}
	l.submit <- req
	res := <-req.resultCh
	return res.resp, res.err
}

// Dispatch runs a read-op directly against the node's current state,
// bypassing the write queue entirely.
func (l *Log) Dispatch(op ReadOp) (NodeResult, error) {
	return l.node.Dispatch(op)
}

// Close stops accepting new submissions and waits for the writer
// goroutine to drain.
func (l *Log) Close() {
	close(l.submit)
	<-l.done
}
