package hass

import (
	"context"
	"errors"
	"sync"

	"github.com/cwbridge/cwbridge/pkg/types"
)

// Handler receives payloads sent on a signal.
type Handler func(ctx context.Context, payload types.SignalPayload) error

// Dispatcher is an in-process signal bus. Handlers run synchronously in the
// goroutine calling Send.
type Dispatcher struct {
	mu       sync.RWMutex
	next     int
	handlers map[string]map[int]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect registers h for signal and returns a function that removes it.
func (d *Dispatcher) Connect(signal string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.next
	d.next++
	if d.handlers[signal] == nil {
		d.handlers[signal] = make(map[int]Handler)
	}
	d.handlers[signal][id] = h

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[signal], id)
		if len(d.handlers[signal]) == 0 {
			delete(d.handlers, signal)
		}
	}
}

// Send delivers payload to every handler connected to signal. A signal
// without handlers is dropped. The returned error joins all handler errors.
func (d *Dispatcher) Send(ctx context.Context, signal string, payload types.SignalPayload) error {
	d.mu.RLock()
	hs := make([]Handler, 0, len(d.handlers[signal]))
	for _, h := range d.handlers[signal] {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
