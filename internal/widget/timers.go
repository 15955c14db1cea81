package widget

import (
	"sync"
	"time"
)

// repeatingTask is an explicitly scheduled, explicitly cancelable repeating
// task. The tick callback returns false to stop the task when its guarding
// condition no longer holds; Stop cancels it from outside. Start after a stop
// reschedules it, and both calls are idempotent.
type repeatingTask struct {
	interval time.Duration
	tick     func() bool

	mu      sync.Mutex
	cancel  chan struct{}
	running bool
}

func newRepeatingTask(interval time.Duration, tick func() bool) *repeatingTask {
	return &repeatingTask{interval: interval, tick: tick}
}

// Start schedules the task. No-op if already running.
func (t *repeatingTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	cancel := make(chan struct{})
	t.cancel = cancel
	t.running = true

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				if !t.tick() {
					t.mu.Lock()
					if t.cancel == cancel {
						t.running = false
					}
					t.mu.Unlock()
					return
				}
			}
		}
	}()
}

// Stop cancels the task. No-op if not running.
func (t *repeatingTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	close(t.cancel)
	t.running = false
}

// Running reports whether the task is currently scheduled.
func (t *repeatingTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Rotator cycles the highlighted suggestion while the conversation has not
// started. It stops itself on the first tick after the conversation starts.
type Rotator struct {
	task *repeatingTask
}

// NewRotator creates a rotator over count suggestions.
func NewRotator(state *State, count int, interval time.Duration) *Rotator {
	return &Rotator{
		task: newRepeatingTask(interval, func() bool {
			if state.Started() {
				return false
			}
			state.RotatePrompt(count)
			return true
		}),
	}
}

// Start begins rotation.
func (r *Rotator) Start() { r.task.Start() }

// Stop cancels rotation.
func (r *Rotator) Stop() { r.task.Stop() }

// Running reports whether the rotator is active.
func (r *Rotator) Running() bool { return r.task.Running() }

// Stepper advances the loading indicator step while the loading flag is set.
// It stops itself once loading clears.
type Stepper struct {
	task *repeatingTask
}

// NewStepper creates a loading-step driver.
func NewStepper(state *State, interval time.Duration) *Stepper {
	return &Stepper{
		task: newRepeatingTask(interval, func() bool {
			if !state.Loading() {
				return false
			}
			state.AdvanceLoadingStep()
			return true
		}),
	}
}

// Start begins stepping.
func (s *Stepper) Start() { s.task.Start() }

// Stop cancels stepping.
func (s *Stepper) Stop() { s.task.Stop() }

// Running reports whether the stepper is active.
func (s *Stepper) Running() bool { return s.task.Running() }
