package notifier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/krakenbot/internal/core"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 30 * time.Second
)

// Dispatcher fans messages out to every registered notifier. Notify only
// enqueues; a background worker delivers and logs failures.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier

	queue   chan string
	timeout time.Duration
	logger  *zap.Logger

	qmu       sync.Mutex
	closed    bool
	startOnce sync.Once
	done      chan struct{}
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQueueSize sets how many messages may wait for delivery
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan string, n)
		}
	}
}

// WithSendTimeout bounds each delivery
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifiers: make(map[string]Notifier),
		queue:     make(chan string, defaultQueueSize),
		timeout:   defaultSendTimeout,
		logger:    zap.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a notifier
func (d *Dispatcher) Register(n Notifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := n.Name()
	if _, exists := d.notifiers[name]; exists {
		return fmt.Errorf("notifier %s already registered", name)
	}
	d.notifiers[name] = n
	return nil
}

// Names returns the registered notifier names, sorted
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) Name() string { return "dispatcher" }

// Notify enqueues text for asynchronous delivery. It never blocks: a full
// queue drops the message with a warning.
func (d *Dispatcher) Notify(ctx context.Context, text string) error {
	d.startOnce.Do(func() { go d.run() })

	d.qmu.Lock()
	defer d.qmu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping message")
		return nil
	}
	select {
	case d.queue <- text:
	default:
		d.logger.Warn("notification queue full, dropping message", zap.Int("length", len(text)))
	}
	return nil
}

// NotifyAll delivers text synchronously and returns the failures by notifier name
func (d *Dispatcher) NotifyAll(ctx context.Context, text string) map[string]error {
	d.mu.RLock()
	targets := make(map[string]Notifier, len(d.notifiers))
	for name, n := range d.notifiers {
		targets[name] = n
	}
	d.mu.RUnlock()

	errs := make(map[string]error)
	for name, n := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Notify(sendCtx, text)
		cancel()
		if err != nil {
			errs[name] = core.WrapError(core.ErrNotifierFailed, err)
		}
	}
	return errs
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for text := range d.queue {
		for name, err := range d.NotifyAll(context.Background(), text) {
			d.logger.Warn("notification failed", zap.String("notifier", name), zap.Error(err))
		}
	}
}

// Close stops accepting messages and waits until queued ones are delivered
// or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.startOnce.Do(func() { go d.run() })
	d.qmu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.qmu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Notifier = (*Dispatcher)(nil)
