package network

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-zeromq/zmq4"
)

// ZMQTransport speaks ZMTP PUB/SUB over tcp:// and ipc:// endpoints.
type ZMQTransport struct {
	dialRetry      time.Duration
	dialMaxRetries int
}

func NewZMQTransport(opts Options) *ZMQTransport {
	z := &ZMQTransport{
		dialRetry:      opts.DialRetry,
		dialMaxRetries: opts.DialMaxRetries,
	}
	if z.dialRetry <= 0 {
		z.dialRetry = DefaultDialRetry
	}
	if z.dialMaxRetries <= 0 {
		z.dialMaxRetries = DefaultDialMaxRetries
	}
	return z
}

func (z *ZMQTransport) Bind(ctx context.Context, endpoint string) (PubSocket, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return &zmqPub{sock: sock, endpoint: boundEndpoint(endpoint, sock.Addr())}, nil
}

// Connect dials endpoint, retrying up to the configured limit, then subscribes to topic.
func (z *ZMQTransport) Connect(ctx context.Context, endpoint, topic string) (SubSocket, error) {
	sock := zmq4.NewSub(ctx,
		zmq4.WithDialerRetry(z.dialRetry),
		zmq4.WithDialerMaxRetries(z.dialMaxRetries),
	)
	if err := sock.Dial(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w: %v", endpoint, ErrNoListener, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("subscribe %q: %w", topic, err)
	}
	return &zmqSub{sock: sock}, nil
}

type zmqPub struct {
	sock     zmq4.Socket
	endpoint string
}

func (p *zmqPub) Send(msg Message) error {
	return p.sock.Send(zmq4.NewMsgFrom([]byte(msg.Topic), msg.Payload))
}

func (p *zmqPub) Endpoint() string {
	return p.endpoint
}

func (p *zmqPub) Close() error {
	return p.sock.Close()
}

type zmqSub struct {
	sock zmq4.Socket
}

func (s *zmqSub) Recv() (Message, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return Message{}, err
	}
	switch len(msg.Frames) {
	case 0:
		return Message{}, nil
	case 1:
		return Message{Topic: string(msg.Frames[0])}, nil
	default:
		return Message{Topic: string(msg.Frames[0]), Payload: msg.Frames[1]}, nil
	}
}

func (s *zmqSub) Close() error {
	return s.sock.Close()
}

// boundEndpoint resolves wildcard ports (tcp://127.0.0.1:0) to the port actually bound.
func boundEndpoint(requested string, addr net.Addr) string {
	if addr == nil || !strings.HasPrefix(requested, "tcp://") {
		return requested
	}
	return "tcp://" + addr.String()
}
