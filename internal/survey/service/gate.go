package service

import (
	"context"
	"sync"
	"time"

	"iinportal/internal/survey/models"
)

// Gate is the dialog state machine:
//
//	closed → checking → already_completed
//	                  → awaiting_action → download_enabled
//
// Three signals feed it: the completion check result, dwell expiry and an
// explicit completion. The first signal that opens the gate wins; later ones
// are ignored. Cancel returns to closed and bumps the generation so signals
// from the previous opening are dropped.
type Gate struct {
	mu    sync.Mutex
	state models.GateState
	gen   uint64
	after func(time.Duration) <-chan time.Time
}

// NewGate returns a closed gate. A nil after uses time.After.
func NewGate(after func(time.Duration) <-chan time.Time) *Gate {
	if after == nil {
		after = time.After
	}
	return &Gate{state: models.GateClosed, after: after}
}

func (g *Gate) State() models.GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Open starts (or restarts) a check and returns its generation.
func (g *Gate) Open() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.state = models.GateChecking
	return g.gen
}

// Cancel closes the dialog and discards pending signals.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.state = models.GateClosed
}

// Resolve feeds the completion check result.
func (g *Gate) Resolve(gen uint64, completed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen || g.state != models.GateChecking {
		return
	}
	if completed {
		g.state = models.GateAlreadyCompleted
		return
	}
	g.state = models.GateAwaitingAction
}

// DwellElapsed feeds dwell expiry.
func (g *Gate) DwellElapsed(gen uint64) {
	g.enable(gen)
}

// CompletionRecorded feeds an explicit completion made while the dialog is open.
func (g *Gate) CompletionRecorded(gen uint64) {
	g.enable(gen)
}

func (g *Gate) enable(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		return
	}
	if g.state == models.GateChecking || g.state == models.GateAwaitingAction {
		g.state = models.GateDownloadEnabled
	}
}

// Run opens the gate and races check against a dwell timer and the recorded
// channel until the download is enabled or ctx ends. A done ctx cancels the
// gate. The check runs on its own goroutine and must honour ctx.
func (g *Gate) Run(ctx context.Context, check func(context.Context) bool, dwell time.Duration, recorded <-chan struct{}) models.GateState {
	gen := g.Open()

	checked := make(chan bool, 1)
	go func() {
		checked <- check(ctx)
	}()
	var timer <-chan time.Time
	if dwell <= 0 {
		g.DwellElapsed(gen)
	} else {
		timer = g.after(dwell)
	}

	for {
		if st := g.State(); st.CanDownload() {
			return st
		}
		select {
		case completed := <-checked:
			g.Resolve(gen, completed)
			checked = nil
		case <-timer:
			g.DwellElapsed(gen)
			timer = nil
		case <-recorded:
			g.CompletionRecorded(gen)
			recorded = nil
		case <-ctx.Done():
			g.Cancel()
			return models.GateClosed
		}
	}
}
