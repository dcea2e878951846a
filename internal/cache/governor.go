package cache

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders DecompressionTask scheduling within the Governor.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// GovernorMode selects the initial concurrency multiplier applied to
// NewGovernor's baseConcurrency argument, per spec §4.4.
type GovernorMode string

const (
	ModeConservative GovernorMode = "conservative"
	ModeBalanced     GovernorMode = "balanced"
	ModeAggressive   GovernorMode = "aggressive"
	ModeAdaptive     GovernorMode = "adaptive"
)

// ErrQueueFull is returned by Submit when the bounded queue is at
// capacity (spec §4.4, §8 scenario 4).
var ErrQueueFull = errors.New("cache: decompression governor queue is full")

// DecompressionTask is one unit of work submitted to the Governor, per
// spec §3.1. Fn performs the actual (blocking) decompression work.
type DecompressionTask struct {
	ID         string
	Priority   Priority
	StartTime  time.Time
	RetryCount int
	Fn         func(ctx context.Context) error
}

// taskItem wraps a DecompressionTask with the sequence number that breaks
// priority ties FIFO-within-priority, for use in the priority queue.
type taskItem struct {
	task DecompressionTask
	seq  int64
	done chan error
}

type taskQueue []*taskItem

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(*taskItem)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// windowSample records one completed task's outcome for the adaptive
// controller's rolling window.
type windowSample struct {
	success  bool
	duration time.Duration
}

// Governor bounds concurrent decompression work and adapts its own
// concurrency ceiling based on a rolling window of recent outcomes, per
// spec §4.4. It is the one hand-rolled concurrency primitive in this
// module; no example in the retrieval pack implements a priority-aware
// bounded worker gate.
type Governor struct {
	mu            sync.Mutex
	queue         taskQueue
	nextSeq       int64
	maxQueueSize  int
	maxConcurrent int
	ceiling       int
	inFlight      int
	cond          *sync.Cond

	window     []windowSample
	windowCap  int
	lastAdjust time.Time

	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	eventBus EventBus
}

// GovernorConfig configures a Governor instance.
type GovernorConfig struct {
	BaseConcurrency int
	Mode            GovernorMode
	MaxQueueSize    int
	EventBus        EventBus
}

func modeMultiplier(mode GovernorMode) float64 {
	switch mode {
	case ModeConservative:
		return 0.5
	case ModeAggressive:
		return 1.5
	case ModeAdaptive, ModeBalanced:
		return 1.0
	default:
		return 1.0
	}
}

// NewGovernor constructs a Governor and starts its adaptive-adjustment
// loop and its dispatch loop. Call Close to stop both.
func NewGovernor(cfg GovernorConfig) *Governor {
	initial := int(float64(cfg.BaseConcurrency) * modeMultiplier(cfg.Mode))
	if initial < 1 {
		initial = 1
	}
	bus := cfg.EventBus
	if bus == nil {
		bus = noopEventBus{}
	}
	g := &Governor{
		maxQueueSize:  cfg.MaxQueueSize,
		maxConcurrent: initial,
		ceiling:       max(cfg.BaseConcurrency*2, 50),
		windowCap:     50,
		stopCh:        make(chan struct{}),
		eventBus:      bus,
	}
	g.cond = sync.NewCond(&g.mu)

	g.wg.Add(2)
	go g.dispatchLoop()
	go g.adjustLoop()
	return g
}

// Submit enqueues a decompression task, failing immediately if the queue
// is at capacity (backpressure per §5). It blocks until the task has run
// (successfully or not) or ctx is cancelled.
func (g *Governor) Submit(ctx context.Context, task DecompressionTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.StartTime = time.Now()

	g.mu.Lock()
	if len(g.queue) >= g.maxQueueSize {
		g.mu.Unlock()
		return ErrQueueFull
	}
	item := &taskItem{task: task, seq: g.nextSeq, done: make(chan error, 1)}
	g.nextSeq++
	heap.Push(&g.queue, item)
	g.cond.Signal()
	g.mu.Unlock()

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maxRetriesPerTask is the §4.4 retry policy: a failed task is re-enqueued
// up to twice before being rejected to the caller.
const maxRetriesPerTask = 2

func (g *Governor) dispatchLoop() {
	defer g.wg.Done()
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		for !g.closed && (len(g.queue) == 0 || g.inFlight >= g.maxConcurrent) {
			g.cond.Wait()
		}
		if g.closed {
			return
		}
		item := heap.Pop(&g.queue).(*taskItem)
		g.inFlight++
		g.mu.Unlock()
		go g.run(item)
		g.mu.Lock()
	}
}

func (g *Governor) run(item *taskItem) {
	start := time.Now()
	err := item.task.Fn(context.Background())
	duration := time.Since(start)

	if err != nil && item.task.RetryCount < maxRetriesPerTask {
		item.task.RetryCount++
		g.mu.Lock()
		g.inFlight--
		if len(g.queue) < g.maxQueueSize {
			heap.Push(&g.queue, item)
		} else {
			g.mu.Unlock()
			item.done <- err
			return
		}
		g.cond.Signal()
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	g.inFlight--
	g.window = append(g.window, windowSample{success: err == nil, duration: duration})
	if len(g.window) > g.windowCap {
		g.window = g.window[len(g.window)-g.windowCap:]
	}
	g.cond.Signal()
	g.mu.Unlock()

	item.done <- err
}

// ResourceSample is the caller-supplied snapshot of system load the
// adaptive controller weighs alongside its rolling window of outcomes.
type ResourceSample struct {
	MemoryRatio float64
	CPURatio    float64
}

var currentResourceSample = ResourceSample{}
var resourceSampleMu sync.Mutex

// SetResourceSample lets the host process feed memory/CPU pressure
// readings into every Governor's adaptive controller.
func SetResourceSample(s ResourceSample) {
	resourceSampleMu.Lock()
	currentResourceSample = s
	resourceSampleMu.Unlock()
}

func readResourceSample() ResourceSample {
	resourceSampleMu.Lock()
	defer resourceSampleMu.Unlock()
	return currentResourceSample
}

func (g *Governor) adjustLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.adjustOnce()
		}
	}
}

func (g *Governor) adjustOnce() {
	g.mu.Lock()
	if time.Since(g.lastAdjust) < 5*time.Second {
		g.mu.Unlock()
		return
	}
	if len(g.window) == 0 {
		g.mu.Unlock()
		return
	}

	var successes int
	var totalDuration time.Duration
	for _, s := range g.window {
		if s.success {
			successes++
		}
		totalDuration += s.duration
	}
	successRate := float64(successes) / float64(len(g.window))
	avgDuration := totalDuration / time.Duration(len(g.window))
	queueSize := len(g.queue)
	current := g.maxConcurrent
	ceiling := g.ceiling
	g.mu.Unlock()

	sample := readResourceSample()

	raise := successRate > 0.95 && avgDuration < 2000*time.Millisecond &&
		sample.MemoryRatio < 0.7 && sample.CPURatio < 0.7 && queueSize > 5
	lower := successRate < 0.9 || avgDuration > 4000*time.Millisecond ||
		sample.MemoryRatio > 0.8 || sample.CPURatio > 0.8

	newConcurrent := current
	switch {
	case raise && current < ceiling:
		newConcurrent = current + 1
	case lower && current > 1:
		newConcurrent = current - 1
	default:
		return
	}

	g.mu.Lock()
	g.maxConcurrent = newConcurrent
	g.lastAdjust = time.Now()
	g.cond.Broadcast()
	g.mu.Unlock()

	g.eventBus.Emit(Event{
		Timestamp:   time.Now(),
		Source:      "decompression_governor",
		MetricType:  MetricGauge,
		MetricName:  "concurrency_adjusted",
		MetricValue: float64(newConcurrent),
	})

	if sample.MemoryRatio > 0.85 {
		g.eventBus.Emit(Event{
			Timestamp:  time.Now(),
			Source:     "decompression_governor",
			MetricType: MetricCounter,
			MetricName: "memory_pressure_handled",
		})
	}
}

// QueueDepth reports the current backlog, used by GetStats.
func (g *Governor) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Concurrency reports the current adaptive concurrency ceiling.
func (g *Governor) Concurrency() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxConcurrent
}

// Close stops the dispatch and adjustment loops.
func (g *Governor) Close() {
	close(g.stopCh)
	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
	g.wg.Wait()
}
