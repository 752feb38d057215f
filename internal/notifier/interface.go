// Package notifier delivers human-readable trading messages.
package notifier

import "context"

// Notifier defines the interface for message delivery
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Notify delivers one message
	Notify(ctx context.Context, text string) error
}

// Func adapts a function to Notifier
type Func func(ctx context.Context, text string) error

func (f Func) Name() string { return "func" }

func (f Func) Notify(ctx context.Context, text string) error { return f(ctx, text) }
