package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Handler consumes one queue.
type Handler interface {
	Queue() string
	Run(ctx *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	q := h.Queue()
	if q == "" {
		return fmt.Errorf("handler Queue() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[q]; exists {
		return fmt.Errorf("handler already registered for queue=%s", q)
	}
	r.handlers[q] = h
	return nil
}

func (r *Registry) Get(queue string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// Queues returns the registered queue names in sorted order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Name string
	Fn   func(ctx *Context) error
}

func (h HandlerFunc) Queue() string          { return h.Name }
func (h HandlerFunc) Run(ctx *Context) error { return h.Fn(ctx) }
