package signal

import (
	"context"
	"sync"
	"time"

	"cothink/internal/logging"
)

// Worker runs pipeline analyses off the synchronous reply path. Tasks
// are queued per controller, dispatched after a short fixed delay so
// analysis does not contend with the primary reply for the outbound
// call budget. Writes race with the next turn's reads by design;
// profile-derived context may lag one turn.
type Worker struct {
	pipeline *Pipeline
	delay    time.Duration
	timeout  time.Duration

	// onOutcome, when set, receives each completed analysis. The mode
	// controller uses it to latch a pending Partner proposal.
	onOutcome func(userKey string, outcome Outcome)

	tasks chan task
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

type task struct {
	userKey string
	text    string
}

// NewWorker starts the single consumer goroutine.
func NewWorker(pipeline *Pipeline, delay time.Duration, onOutcome func(string, Outcome)) *Worker {
	if delay < 0 {
		delay = 0
	}
	w := &Worker{
		pipeline:  pipeline,
		delay:     delay,
		timeout:   2 * time.Minute,
		onOutcome: onOutcome,
		tasks:     make(chan task, 64),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue schedules an analysis. It never blocks the caller: when the
// queue is full the task is dropped with a diagnostic.
func (w *Worker) Enqueue(userKey, text string) {
	select {
	case w.tasks <- task{userKey: userKey, text: text}:
	default:
		logging.Get(logging.CategoryPipeline).Warnf("analysis queue full, dropping task for %q", userKey)
	}
}

// Close stops the consumer and waits for the in-flight task.
func (w *Worker) Close() {
	w.once.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case t := <-w.tasks:
			if !w.wait() {
				return
			}
			w.process(t)
		}
	}
}

// wait sleeps for the dispatch delay, aborting early on Close.
func (w *Worker) wait() bool {
	if w.delay == 0 {
		return true
	}
	timer := time.NewTimer(w.delay)
	defer timer.Stop()
	select {
	case <-w.done:
		return false
	case <-timer.C:
		return true
	}
}

// process runs one analysis. Failures are caught and logged, never
// surfaced to the user.
func (w *Worker) process(t task) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPipeline).Errorf("background analysis panicked for %q: %v", t.userKey, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	outcome, err := w.pipeline.Analyze(ctx, t.userKey, t.text)
	if err != nil {
		logging.Get(logging.CategoryPipeline).Errorf("background analysis failed for %q: %v", t.userKey, err)
		return
	}
	if w.onOutcome != nil {
		w.onOutcome(t.userKey, outcome)
	}
}
