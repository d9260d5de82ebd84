package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const defaultLibp2pSubscriberListen = "/ip4/127.0.0.1/tcp/0"

// Libp2pOptions configures the libp2p transport.
type Libp2pOptions struct {
	// IdentityKeyFile pins the publisher's peer ID across restarts so
	// subscribers can keep a fixed /p2p/<id> connect address.
	IdentityKeyFile string
	// SubscriberListen is the listen multiaddr of each subscriber host.
	SubscriberListen string
}

// Libp2pTransport carries topics over gossipsub. Bind endpoints are listen
// multiaddrs (/ip4/0.0.0.0/tcp/7899); connect endpoints must carry the
// publisher's peer ID (/ip4/127.0.0.1/tcp/7899/p2p/<id>).
type Libp2pTransport struct {
	opts Libp2pOptions
}

func NewLibp2pTransport(opts Libp2pOptions) *Libp2pTransport {
	if opts.SubscriberListen == "" {
		opts.SubscriberListen = defaultLibp2pSubscriberListen
	}
	return &Libp2pTransport{opts: opts}
}

// libp2pPub is one gossipsub host owned by the publisher.
type libp2pPub struct {
	ctx    context.Context
	cancel context.CancelFunc

	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func (l *Libp2pTransport) Bind(ctx context.Context, endpoint string) (PubSocket, error) {
	listen, err := ma.NewMultiaddr(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: listen multiaddr %q: %v", ErrInvalidEndpoint, endpoint, err)
	}
	opts := []libp2p.Option{libp2p.ListenAddrs(listen)}
	if l.opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(l.opts.IdentityKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		opts = append(opts, libp2p.Identity(key))
	}

	pctx, cancel := context.WithCancel(ctx)
	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(pctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}
	return &libp2pPub{
		ctx:    pctx,
		cancel: cancel,
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

func (p *libp2pPub) Send(msg Message) error {
	t, err := p.getOrJoinTopic(msg.Topic)
	if err != nil {
		return err
	}
	return t.Publish(p.ctx, msg.Payload)
}

// Endpoint returns the first dialable address including the peer ID.
func (p *libp2pPub) Endpoint() string {
	addrs := p.host.Addrs()
	if len(addrs) == 0 {
		return "/p2p/" + p.host.ID().String()
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0].String(), p.host.ID().String())
}

func (p *libp2pPub) Close() error {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		_ = t.Close()
	}
	return p.host.Close()
}

func (p *libp2pPub) getOrJoinTopic(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t, err := p.ps.Join(name)
	if err != nil {
		return nil, err
	}
	p.topics[name] = t
	return t, nil
}

// libp2pSub is a dedicated host joined to a single topic.
type libp2pSub struct {
	ctx    context.Context
	cancel context.CancelFunc

	host  host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	name  string
}

func (l *Libp2pTransport) Connect(ctx context.Context, endpoint, topic string) (SubSocket, error) {
	addr, err := ma.NewMultiaddr(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: connect multiaddr %q: %v", ErrInvalidEndpoint, endpoint, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q has no peer id: %v", ErrInvalidEndpoint, endpoint, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	h, err := libp2p.New(libp2p.ListenAddrStrings(l.opts.SubscriberListen))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}
	fail := func(err error) (SubSocket, error) {
		_ = h.Close()
		cancel()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(sctx, h)
	if err != nil {
		return fail(fmt.Errorf("create gossipsub: %w", err))
	}
	if err := h.Connect(sctx, *info); err != nil {
		return fail(fmt.Errorf("connect %s: %w: %v", info.ID, ErrNoListener, err))
	}
	t, err := ps.Join(topic)
	if err != nil {
		return fail(fmt.Errorf("join %q: %w", topic, err))
	}
	sub, err := t.Subscribe()
	if err != nil {
		_ = t.Close()
		return fail(fmt.Errorf("subscribe %q: %w", topic, err))
	}
	return &libp2pSub{ctx: sctx, cancel: cancel, host: h, topic: t, sub: sub, name: topic}, nil
}

func (s *libp2pSub) Recv() (Message, error) {
	msg, err := s.sub.Next(s.ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: s.name, Payload: append([]byte(nil), msg.Data...)}, nil
}

func (s *libp2pSub) Close() error {
	s.sub.Cancel()
	_ = s.topic.Close()
	s.cancel()
	return s.host.Close()
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
