package dispatch

// Handler binds a typed callback to a Loop so producers on any goroutine can
// hand it values without knowing where it runs.
type Handler[T any] struct {
	loop *Loop
	fn   func(T)
}

// NewHandler creates a Handler delivering to fn on loop.
func NewHandler[T any](loop *Loop, fn func(T)) *Handler[T] {
	return &Handler[T]{loop: loop, fn: fn}
}

// Send posts v to the handler's loop. It blocks while the loop's queue is
// full and returns false once the loop is torn down.
func (h *Handler[T]) Send(v T) bool {
	return Post(h.loop, h.fn, v)
}
