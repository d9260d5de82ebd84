package network

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryTransport is a process-local transport used for development and tests.
// Topic filters match by prefix, as ZMQ subscriptions do.
type MemoryTransport struct {
	mu     sync.Mutex
	nextID int
	binds  map[string]*memoryPub

	dialRetry      time.Duration
	dialMaxRetries int
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{binds: make(map[string]*memoryPub)}
}

// WithDialRetry makes Connect wait for a not-yet-bound endpoint, polling every
// retry up to maxRetries times, like the ZMQ dialer does.
func (m *MemoryTransport) WithDialRetry(retry time.Duration, maxRetries int) *MemoryTransport {
	m.dialRetry = retry
	m.dialMaxRetries = maxRetries
	return m
}

type memoryPub struct {
	owner    *MemoryTransport
	endpoint string
	ctx      context.Context
	cancel   context.CancelFunc

	mu   sync.RWMutex
	subs map[int]*memorySub
}

type memorySub struct {
	id     int
	topic  string
	ch     chan Message
	pub    *memoryPub
	ctx    context.Context
	cancel context.CancelFunc
}

func (m *MemoryTransport) Bind(ctx context.Context, endpoint string) (PubSocket, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.binds[endpoint]; ok {
		return nil, fmt.Errorf("bind %s: %w", endpoint, ErrEndpointInUse)
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &memoryPub{
		owner:    m,
		endpoint: endpoint,
		ctx:      pctx,
		cancel:   cancel,
		subs:     make(map[int]*memorySub),
	}
	m.binds[endpoint] = p
	go func() {
		<-pctx.Done()
		m.unbind(p)
	}()
	return p, nil
}

func (m *MemoryTransport) Connect(ctx context.Context, endpoint, topic string) (SubSocket, error) {
	var (
		p  *memoryPub
		ok bool
		id int
	)
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		p, ok = m.binds[endpoint]
		id = m.nextID
		m.nextID++
		m.mu.Unlock()
		if ok || attempt >= m.dialMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.dialRetry):
		}
	}
	if !ok {
		return nil, fmt.Errorf("connect %s: %w", endpoint, ErrNoListener)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &memorySub{
		id:     id,
		topic:  topic,
		ch:     make(chan Message, 64),
		pub:    p,
		ctx:    sctx,
		cancel: cancel,
	}
	p.mu.Lock()
	p.subs[id] = s
	p.mu.Unlock()
	return s, nil
}

func (m *MemoryTransport) unbind(p *memoryPub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.binds[p.endpoint]; ok && cur == p {
		delete(m.binds, p.endpoint)
	}
}

func (p *memoryPub) Send(msg Message) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	p.mu.RLock()
	targets := make([]*memorySub, 0, len(p.subs))
	for _, s := range p.subs {
		if strings.HasPrefix(msg.Topic, s.topic) {
			targets = append(targets, s)
		}
	}
	p.mu.RUnlock()

	for _, s := range targets {
		out := Message{Topic: msg.Topic, Payload: append([]byte(nil), msg.Payload...)}
		select {
		case s.ch <- out:
		case <-s.ctx.Done():
			// Subscriber went away; nothing to deliver to.
		case <-p.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

func (p *memoryPub) Endpoint() string {
	return p.endpoint
}

func (p *memoryPub) Close() error {
	p.cancel()
	p.owner.unbind(p)
	return nil
}

func (s *memorySub) Recv() (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.ctx.Done():
		return Message{}, ErrClosed
	case <-s.pub.ctx.Done():
		return Message{}, fmt.Errorf("publisher %s: %w", s.pub.endpoint, ErrClosed)
	}
}

func (s *memorySub) Close() error {
	s.cancel()
	s.pub.mu.Lock()
	delete(s.pub.subs, s.id)
	s.pub.mu.Unlock()
	return nil
}
