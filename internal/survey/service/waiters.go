package service

import (
	"sync"

	"iinportal/internal/survey/models"
)

// waiters wakes long-polling dialogs of this process when a completion is
// recorded for their key.
type waiters struct {
	mu   sync.Mutex
	subs map[models.Key]map[chan struct{}]struct{}
}

func newWaiters() *waiters {
	return &waiters{subs: make(map[models.Key]map[chan struct{}]struct{})}
}

func (w *waiters) subscribe(key models.Key) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	if w.subs[key] == nil {
		w.subs[key] = make(map[chan struct{}]struct{})
	}
	w.subs[key][ch] = struct{}{}
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs[key], ch)
		if len(w.subs[key]) == 0 {
			delete(w.subs, key)
		}
	}
}

func (w *waiters) notify(key models.Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
