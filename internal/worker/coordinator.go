package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/shafouz/libafl-go/pkg/events"
)

// Coordinator runs a pool of fuzzer instances and merges their findings
// through a ChannelEventManager. It replaces the teacher's HTTP master/worker
// split (register/heartbeat/task/result endpoints) with an in-process
// channel boundary: every instance shares this process's address space, so
// there is nothing to register or poll over the network.
type Coordinator struct {
	pool     *ants.Pool
	mgr      *events.ChannelEventManager
	bp       *BackpressureController
	throttle *Throttle

	mu      sync.Mutex
	reports []InstanceReport
	wg      sync.WaitGroup
}

// NewCoordinator builds a coordinator backed by an ants pool capped at
// maxConcurrency simultaneously-running instances. A BackpressureController
// sized to the same capacity slows Launch down once the pool is near full,
// rather than letting ants.Submit queue unboundedly (spec.md §5 leaves
// outer scaling to the embedder; this is this repo's policy for it).
func NewCoordinator(maxConcurrency int, mgr *events.ChannelEventManager) (*Coordinator, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	pool, err := ants.NewPool(maxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("worker: new pool: %w", err)
	}
	bpConfig := DefaultBackpressureConfig()
	bpConfig.MaxQueueSize = maxConcurrency
	return &Coordinator{
		pool:     pool,
		mgr:      mgr,
		bp:       NewBackpressureController(bpConfig),
		throttle: NewThrottle(10 * time.Millisecond),
	}, nil
}

// Launch submits an instance to the pool. It returns once the instance has
// been accepted, not once it finishes; call Wait to block for completion.
// throttle staggers a burst of Launch calls (e.g. ramping up a campaign's
// worth of instances in one loop) so they don't all hit the target in the
// same instant.
func (c *Coordinator) Launch(ctx context.Context, spec InstanceSpec) error {
	c.throttle.Wait()

	c.bp.CheckPressure(c.pool.Running(), c.pool.Cap())
	if c.bp.IsPressured() {
		c.bp.Wait()
	}

	c.wg.Add(1)
	seed := time.Now().UnixNano() ^ int64(len(spec.ID))
	err := c.pool.Submit(func() {
		defer c.wg.Done()
		report := RunInstance(ctx, spec, c.mgr, seed)
		c.bp.RecordProcessed()
		c.mu.Lock()
		c.reports = append(c.reports, report)
		c.mu.Unlock()
	})
	if err != nil {
		c.wg.Done()
	}
	return err
}

// Wait blocks until every launched instance has returned and reports their
// outcomes.
func (c *Coordinator) Wait() []InstanceReport {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InstanceReport, len(c.reports))
	copy(out, c.reports)
	return out
}

// Stop releases pool resources. Call after Wait.
func (c *Coordinator) Stop() {
	c.pool.Release()
}
