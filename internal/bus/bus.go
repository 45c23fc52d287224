// Package bus implements the four message-bus endpoint abstractions (C2)
// over NATS: a brokerless, subject-based pub/sub transport whose wildcard
// subjects give the topic-prefix filtering this system needs, and whose
// queue-group subscriptions give the load-balanced push/pull delivery the
// order path needs. Callers never see a *nats.Conn directly — only the four
// operations below.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nullma/ttquant/internal/errs"
)

// Frame is a received two-part (topic, payload) message.
type Frame struct {
	Topic   string
	Payload []byte
}

// Subscriber connects to one or more NATS servers and collects frames from a
// set of registered topic prefixes into a single internal queue, preserving
// per-publisher FIFO order. Poll reports readiness within a timeout; across
// different publishers no cross-ordering is promised.
type Subscriber struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	frames chan Frame
	logger *slog.Logger
}

// NewSubscriber dials the given NATS server URLs (comma-joined by the
// client) and returns an endpoint ready to register topic prefixes on.
func NewSubscriber(urls []string, logger *slog.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL(urls),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if logger != nil {
				logger.Warn("bus disconnected", "error", err, "kind", errs.ErrBusDisconnect)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect subscriber: %w", err)
	}
	return &Subscriber{
		conn:   conn,
		frames: make(chan Frame, 1024),
		logger: logger.With("component", "bus-subscriber"),
	}, nil
}

// Subscribe registers a topic prefix. A prefix like "md.BTCUSDT" subscribes
// to the exact subject and to "md.BTCUSDT.>" so venue-suffixed frames
// ("md.BTCUSDT.binance") are also delivered.
func (s *Subscriber) Subscribe(topicPrefix string) error {
	handler := func(msg *nats.Msg) {
		select {
		case s.frames <- Frame{Topic: msg.Subject, Payload: msg.Data}:
		default:
			s.logger.Warn("subscriber queue full, dropping frame", "topic", msg.Subject)
		}
	}

	sub, err := s.conn.Subscribe(topicPrefix, handler)
	if err != nil {
		return fmt.Errorf("bus: subscribe %q: %w", topicPrefix, err)
	}
	s.subs = append(s.subs, sub)

	wildcard := topicPrefix + ".>"
	subWild, err := s.conn.Subscribe(wildcard, handler)
	if err != nil {
		return fmt.Errorf("bus: subscribe %q: %w", wildcard, err)
	}
	s.subs = append(s.subs, subWild)

	return nil
}

// Poll waits up to timeout for one frame and returns it, or ok == false on
// timeout. A zero timeout polls non-blocking.
func (s *Subscriber) Poll(timeout time.Duration) (frame Frame, ok bool) {
	select {
	case f := <-s.frames:
		return f, true
	case <-time.After(timeout):
		return Frame{}, false
	}
}

// Chan exposes the underlying frame channel for use by a Poller.
func (s *Subscriber) Chan() <-chan Frame {
	return s.frames
}

// Close unsubscribes and drains the connection. Endpoints must be
// safely tear-down-able on every exit path.
func (s *Subscriber) Close() {
	for i := len(s.subs) - 1; i >= 0; i-- {
		_ = s.subs[i].Unsubscribe()
	}
	s.conn.Close()
}

// PushProducer sends opaque byte frames to one pull address, load-balanced
// across however many consumers share the destination subject's queue
// group. An internal bounded queue provides the high-water mark; Send fails
// with ErrBusOverflow when it is exceeded, and the caller decides whether to
// retry or drop.
type PushProducer struct {
	conn    *nats.Conn
	subject string
	queue   chan []byte
	done    chan struct{}
	logger  *slog.Logger
}

// NewPushProducer connects and starts the background publish loop draining
// the high-water-marked queue to subject.
func NewPushProducer(urls []string, subject string, highWaterMark int, logger *slog.Logger) (*PushProducer, error) {
	conn, err := nats.Connect(natsURL(urls))
	if err != nil {
		return nil, fmt.Errorf("bus: connect push-producer: %w", err)
	}
	p := &PushProducer{
		conn:    conn,
		subject: subject,
		queue:   make(chan []byte, highWaterMark),
		done:    make(chan struct{}),
		logger:  logger.With("component", "bus-push"),
	}
	go p.run()
	return p, nil
}

func (p *PushProducer) run() {
	for {
		select {
		case payload := <-p.queue:
			if err := p.conn.Publish(p.subject, payload); err != nil {
				p.logger.Error("push publish failed", "error", err)
			}
		case <-p.done:
			return
		}
	}
}

// Send enqueues payload for delivery. Returns ErrBusOverflow if the internal
// high-water mark is exceeded.
func (p *PushProducer) Send(payload []byte) error {
	select {
	case p.queue <- payload:
		return nil
	default:
		return fmt.Errorf("bus: push queue full for %q: %w", p.subject, errs.ErrBusOverflow)
	}
}

// Close stops the publish loop and closes the connection.
func (p *PushProducer) Close() {
	close(p.done)
	p.conn.Close()
}

// PubProducer publishes two-part (topic, payload) frames to every matching
// subscriber. Late subscribers miss earlier messages; NATS core (not
// JetStream) is used, so there is no replay.
type PubProducer struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewPubProducer connects a publisher endpoint.
func NewPubProducer(urls []string, logger *slog.Logger) (*PubProducer, error) {
	conn, err := nats.Connect(natsURL(urls))
	if err != nil {
		return nil, fmt.Errorf("bus: connect pub-producer: %w", err)
	}
	return &PubProducer{conn: conn, logger: logger.With("component", "bus-pub")}, nil
}

// Publish sends payload under topic to every current subscriber.
func (p *PubProducer) Publish(topic string, payload []byte) error {
	if err := p.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("bus: publish %q: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the connection.
func (p *PubProducer) Close() {
	_ = p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
}

// Poller multiplexes the frame channels of up to two subscribers and reports
// which one (if any) became ready within a timeout. Only the first two
// registered subscribers are polled; frames on any further subscriber are
// never read. Single-threaded by contract — callers must only ever call Poll
// from the engine's own goroutine.
type Poller struct {
	subs []*Subscriber
}

// NewPoller registers the subscribers to multiplex over.
func NewPoller(subs ...*Subscriber) *Poller {
	return &Poller{subs: subs}
}

// Ready is the result of one Poll call: which subscriber index had a frame
// ready, and the frame itself.
type Ready struct {
	Index int
	Frame Frame
}

// Poll waits up to timeout for any registered subscriber to produce a frame.
// Returns ok == false on timeout.
func (p *Poller) Poll(ctx context.Context, timeout time.Duration) (Ready, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	switch len(p.subs) {
	case 0:
		<-timer.C
		return Ready{}, false
	case 1:
		select {
		case f := <-p.subs[0].Chan():
			return Ready{Index: 0, Frame: f}, true
		case <-timer.C:
			return Ready{}, false
		case <-ctx.Done():
			return Ready{}, false
		}
	default:
		// A generic N-way select requires reflection; the engine only ever
		// multiplexes the market-data and trade subscribers (N == 2), so a
		// fixed two-way select covers every real caller without paying for
		// reflect.Select's overhead.
		select {
		case f := <-p.subs[0].Chan():
			return Ready{Index: 0, Frame: f}, true
		case f := <-p.subs[1].Chan():
			return Ready{Index: 1, Frame: f}, true
		case <-timer.C:
			return Ready{}, false
		case <-ctx.Done():
			return Ready{}, false
		}
	}
}

func natsURL(urls []string) string {
	if len(urls) == 0 {
		return nats.DefaultURL
	}
	out := urls[0]
	for _, u := range urls[1:] {
		out += "," + u
	}
	return out
}
