package network

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is the two-frame transport unit: a topic frame and a payload frame.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSocket is an outbound socket bound at an endpoint.
// Send blocks until the message is handed to the transport.
type PubSocket interface {
	Send(msg Message) error
	Endpoint() string
	Close() error
}

// SubSocket is an inbound socket connected to a publisher and filtered to one topic.
type SubSocket interface {
	Recv() (Message, error)
	Close() error
}

// Transport opens sockets. Sockets live until Close or until the context
// given to Bind/Connect is done.
type Transport interface {
	Bind(ctx context.Context, endpoint string) (PubSocket, error)
	Connect(ctx context.Context, endpoint, topic string) (SubSocket, error)
}

const (
	KindZMQ    = "zmq"
	KindLibp2p = "libp2p"
	KindMemory = "memory"
)

// Dial defaults for transports that wait on a publisher that has not bound yet.
const (
	DefaultDialRetry      = 250 * time.Millisecond
	DefaultDialMaxRetries = 10
)

var (
	ErrClosed          = errors.New("socket closed")
	ErrNoListener      = errors.New("no listener at endpoint")
	ErrEndpointInUse   = errors.New("endpoint already bound")
	ErrUnknownKind     = errors.New("unknown transport kind")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Options configures the transport built by NewTransport.
type Options struct {
	DialRetry       time.Duration
	DialMaxRetries  int
	IdentityKeyFile string
}

// NewTransport returns the transport registered under kind.
func NewTransport(kind string, opts Options) (Transport, error) {
	switch kind {
	case KindZMQ, "":
		return NewZMQTransport(opts), nil
	case KindLibp2p:
		return NewLibp2pTransport(Libp2pOptions{IdentityKeyFile: opts.IdentityKeyFile}), nil
	case KindMemory:
		retry, maxRetries := opts.DialRetry, opts.DialMaxRetries
		if retry <= 0 {
			retry = DefaultDialRetry
		}
		if maxRetries <= 0 {
			maxRetries = DefaultDialMaxRetries
		}
		return NewMemoryTransport().WithDialRetry(retry, maxRetries), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
