package recorder

import "context"

// KeepAlive prevents OS suspension while capturing. It is best effort: its
// absence degrades background reliability, never correctness, so errors
// are ignored by the engine.
type KeepAlive interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopKeepAlive is injected on platforms that do not need or support a
// background keep-alive service.
type NoopKeepAlive struct{}

func (NoopKeepAlive) Start(context.Context) error { return nil }
func (NoopKeepAlive) Stop(context.Context) error  { return nil }
