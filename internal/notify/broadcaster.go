package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yegors/afkfleet/pkg/logger"
)

// Sink is one delivery target fed by the Broadcaster worker
type Sink interface {
	Name() string
	Deliver(n Notification) error
}

// Broadcaster queues notifications from all slots and fans them out to its
// sinks from a single worker goroutine
type Broadcaster struct {
	queue   chan Notification
	mu      sync.RWMutex
	sinks   []Sink
	dropped atomic.Int64
	logger  *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewBroadcaster creates a broadcaster with the given queue size
func NewBroadcaster(queueSize int, log *logger.Logger, sinks ...Sink) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broadcaster{
		queue:  make(chan Notification, queueSize),
		sinks:  sinks,
		logger: log.Named("notify"),
		stopCh: make(chan struct{}),
	}
}

// AddSink registers another delivery target
func (b *Broadcaster) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Notify enqueues n, dropping it when the queue is full
func (b *Broadcaster) Notify(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	select {
	case b.queue <- n:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Notification queue full, dropping",
			logger.Int("slot", n.Slot),
			logger.String("kind", string(n.Kind)))
	}
}

// Dropped returns how many notifications were discarded
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Start runs the delivery worker until ctx is done or Stop is called
func (b *Broadcaster) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case n := <-b.queue:
				b.deliver(n)
			case <-ctx.Done():
				b.drain()
				return
			case <-b.stopCh:
				b.drain()
				return
			}
		}
	}()
}

// Stop delivers what is already queued and stops the worker
func (b *Broadcaster) Stop() {
	b.once.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Broadcaster) drain() {
	for {
		select {
		case n := <-b.queue:
			b.deliver(n)
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(n Notification) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(n); err != nil {
			b.logger.Warn("Notification sink failed",
				logger.String("sink", s.Name()),
				logger.String("kind", string(n.Kind)),
				logger.Error(err))
		}
	}
}

// LogSink writes notifications to the structured log
type LogSink struct {
	logger *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(n Notification) error {
	fields := []logger.Field{
		logger.Int("slot", n.Slot),
		logger.String("identity", n.Identity),
		logger.String("kind", string(n.Kind)),
	}
	switch n.Kind {
	case KindEmergency, KindFailed:
		s.logger.Warn(n.Message, fields...)
	default:
		s.logger.Info(n.Message, fields...)
	}
	return nil
}
