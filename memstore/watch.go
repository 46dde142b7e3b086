package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/datumkit/datum/repository"
)

// hub fans change events out to watch subscribers. Publishing never
// blocks: a subscriber whose buffer is full loses the event and the drop
// is logged.
type hub[T any, ID comparable] struct {
	mu     sync.Mutex
	subs   map[chan repository.Event[T, ID]]struct{}
	logger *slog.Logger
	buffer int
}

func newHub[T any, ID comparable](logger *slog.Logger, buffer int) *hub[T, ID] {
	return &hub[T, ID]{
		subs:   make(map[chan repository.Event[T, ID]]struct{}),
		logger: logger,
		buffer: buffer,
	}
}

func (h *hub[T, ID]) subscribe(ctx context.Context) <-chan repository.Event[T, ID] {
	ch := make(chan repository.Event[T, ID], h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

func (h *hub[T, ID]) publish(ev repository.Event[T, ID]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("watch subscriber too slow, dropping event",
				"kind", ev.Kind.String(),
				"id", fmt.Sprint(ev.ID))
		}
	}
}

func (h *hub[T, ID]) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
