package pubsub

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/keepalive"
	"github.com/tenzoki/zmesh/internal/socketmon"
	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wireerr"
	"github.com/tenzoki/zmesh/internal/wirelog"
	"github.com/tenzoki/zmesh/internal/wireuri"
)

// subSocket is the subset of *zmq4.Socket a SubscriberClient depends on.
type subSocket interface {
	SetLinger(time.Duration) error
	SetSubscribe(string) error
	SetIdentity(string) error
	SetReconnectIvl(time.Duration) error
	SetReconnectIvlMax(time.Duration) error
	SetIpv6(bool) error
	SetRcvtimeo(time.Duration) error
	Connect(string) error
	RecvMessageBytes(flags zmq4.Flag) ([][]byte, error)
	Close() error
}

var _ subSocket = (*zmq4.Socket)(nil)

// SubscriberConfig is the construction-time bind configuration for a
// SubscriberClient, per spec.md §4.4.
type SubscriberConfig struct {
	Endpoint   wireconfig.Endpoint
	SourceIP   string
	SourcePort int

	Filtering bool
	Role      string
	Identity  string

	Keepalive      keepalive.Policy
	ReconDefault   int
	ReconMax       int
	ReconRandomize bool

	IPv6        bool
	MonitorName string // non-empty enables a monitor, named for logs
}

// Subscription is a cancellable on-recv registration. Cancel clears the
// handle's run flag; the owning consumer loop observes it at the head of
// its next iteration, per the design note on avoiding a callback-identity
// keyed registry.
type Subscription struct {
	mu     sync.Mutex
	active bool
	done   chan struct{}
}

// Cancel stops the consumer loop this subscription was returned from.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
}

func (s *Subscription) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SubscriberClient connects to a publish fan-out socket, applies topic
// filtering, and dispatches decoded messages to registered callbacks.
type SubscriberClient struct {
	cfg  SubscriberConfig
	sock subSocket
	ctx  *zmq4.Context

	monitor *socketmon.Monitor

	mu            sync.Mutex
	subscriptions []*Subscription
	closed        bool
}

// New creates the subscriber's SUB socket and applies every socket option
// spec.md §4.4 lists, but does not connect. sock is normally obtained via
// zmqCtx.NewSocket(zmq4.SUB); it is accepted as an interface so the option
// wiring can be exercised without a real libzmq context.
func New(cfg SubscriberConfig, sock subSocket) (*SubscriberClient, error) {
	if err := cfg.Endpoint.Validate(); err != nil {
		return nil, err
	}

	if err := sock.SetLinger(-1 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("set linger", err)
	}

	topics, unfiltered := SubscriptionTopics(cfg.Filtering, cfg.Role, cfg.Identity)
	if unfiltered {
		if err := sock.SetSubscribe(""); err != nil {
			return nil, wireerr.NewTransportError("subscribe all", err)
		}
	} else {
		for _, topic := range topics {
			if err := sock.SetSubscribe(topic); err != nil {
				return nil, wireerr.NewTransportError("subscribe "+topic, err)
			}
		}
	}

	if cfg.Identity != "" {
		if err := sock.SetIdentity(cfg.Identity); err != nil {
			return nil, wireerr.NewTransportError("set identity", err)
		}
	}

	keepalive.Apply(socketKeepaliveAdapter{sock}, cfg.Keepalive)

	if cfg.ReconDefault > 0 {
		ivl := cfg.ReconDefault
		if cfg.ReconRandomize && cfg.ReconMax > 0 {
			ivl += rand.Intn(cfg.ReconMax + 1)
		}
		_ = sock.SetReconnectIvl(time.Duration(ivl) * time.Millisecond)
	}
	if cfg.ReconMax > 0 {
		_ = sock.SetReconnectIvlMax(time.Duration(cfg.ReconMax) * time.Millisecond)
	}

	ipv6 := cfg.IPv6 || strings.Contains(cfg.Endpoint.Host, ":")
	if err := sock.SetIpv6(ipv6); err != nil {
		return nil, wireerr.NewTransportError("set ipv6", err)
	}

	return &SubscriberClient{cfg: cfg, sock: sock}, nil
}

// AttachMonitor wires a socket event monitor into the client, started
// async on the given goroutine-backed scheduler equivalent. Only usable
// when the underlying socket is a real *zmq4.Socket.
func (c *SubscriberClient) AttachMonitor(zctx *zmq4.Context, realSock *zmq4.Socket) error {
	if c.cfg.MonitorName == "" {
		return nil
	}
	m, err := socketmon.New(zctx, realSock, c.cfg.MonitorName)
	if err != nil {
		return err
	}
	c.monitor = m
	m.StartAsync(context.Background())
	return nil
}

// Connect resolves the bind configuration to a URI and connects. An
// explicit port overrides the construction-time port.
func (c *SubscriberClient) Connect(port int, versionFn wireuri.VersionFunc) error {
	var uri string
	switch {
	case c.cfg.Endpoint.IsIPC():
		uri = wireuri.ComposeIPC(c.cfg.Endpoint.Path)
	default:
		p := c.cfg.Endpoint.Port
		if port != 0 {
			p = port
		}
		uri = wireuri.Compose(c.cfg.Endpoint.Host, p, c.cfg.SourceIP, c.cfg.SourcePort, versionFn)
	}
	return c.ConnectURI(uri)
}

// ConnectURI bypasses URI composition and connects directly.
func (c *SubscriberClient) ConnectURI(uri string) error {
	if err := c.sock.Connect(uri); err != nil {
		return wireerr.NewTransportError("connect "+uri, err)
	}
	return nil
}

// Recv receives one message. timeout == nil blocks until a message
// arrives and reports a receive failure as a TransportError; *timeout == 0
// polls non-blocking and returns (nil, nil) if nothing is ready;
// *timeout > 0 waits up to the deadline and returns (nil, nil) on elapse.
// A message whose topic doesn't match this client's filter also returns
// (nil, nil).
func (c *SubscriberClient) Recv(timeout *time.Duration) ([]byte, error) {
	var flags zmq4.Flag
	switch {
	case timeout == nil:
		// Clear any deadline a previous timed Recv left on the socket.
		if err := c.sock.SetRcvtimeo(-1 * time.Millisecond); err != nil {
			return nil, wireerr.NewTransportError("set rcvtimeo", err)
		}
	case timeout != nil && *timeout == 0:
		flags = zmq4.DONTWAIT
	case timeout != nil && *timeout > 0:
		if err := c.sock.SetRcvtimeo(*timeout); err != nil {
			return nil, wireerr.NewTransportError("set rcvtimeo", err)
		}
	}

	frames, err := c.sock.RecvMessageBytes(flags)
	if err != nil {
		if timeout == nil {
			return nil, wireerr.NewTransportError("recv", err)
		}
		if *timeout > 0 {
			wirelog.For("pubsub.subscriber").Debug().Msg("recv deadline elapsed")
		}
		return nil, nil
	}

	payload, deliver, err := DecodePublishMessage(frames, c.cfg.Role, c.cfg.Identity)
	if err != nil {
		return nil, err
	}
	if !deliver {
		return nil, nil
	}
	return payload, nil
}

// Send is a no-op: the subscriber is receive-only.
func (c *SubscriberClient) Send([]byte) error { return nil }

// OnRecv spawns a consumer goroutine that repeatedly blocks in Recv and
// invokes cb with each delivered payload. Callback panics are not
// recovered by design — callers wrap cb themselves if needed, matching
// the "log and swallow" policy being the caller's responsibility upstream
// of this package's error taxonomy. The returned Subscription cancels
// just this consumer; multiple registrations may coexist.
func (c *SubscriberClient) OnRecv(cb func([]byte)) *Subscription {
	sub := &Subscription{active: true, done: make(chan struct{})}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, sub)
	c.mu.Unlock()

	log := wirelog.For("pubsub.subscriber")
	go func() {
		defer close(sub.done)
		for sub.isActive() {
			payload, err := c.Recv(nil)
			if err != nil {
				log.Error().Err(err).Msg("subscriber consumer terminated")
				return
			}
			if payload == nil {
				continue
			}
			cb(payload)
		}
	}()
	return sub
}

// CancelAll cancels every outstanding OnRecv registration, equivalent to
// calling OnRecv(nil) against every consumer task.
func (c *SubscriberClient) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscriptions {
		sub.Cancel()
	}
	c.subscriptions = nil
}

// Close is idempotent: it cancels all consumers, stops the monitor, and
// closes the socket.
func (c *SubscriberClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.CancelAll()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if err := c.sock.Close(); err != nil {
		return fmt.Errorf("close subscriber socket: %w", err)
	}
	return nil
}

// socketKeepaliveAdapter narrows subSocket to keepalive.Apply's expected
// surface. Real sockets implement both interfaces directly; this exists
// only to satisfy the compiler when sock is held as the narrower subSocket
// interface.
type socketKeepaliveAdapter struct {
	subSocket
}

func (a socketKeepaliveAdapter) SetTcpKeepalive(v int) error {
	return a.subSocket.(interface{ SetTcpKeepalive(int) error }).SetTcpKeepalive(v)
}
func (a socketKeepaliveAdapter) SetTcpKeepaliveIdle(v int) error {
	return a.subSocket.(interface{ SetTcpKeepaliveIdle(int) error }).SetTcpKeepaliveIdle(v)
}
func (a socketKeepaliveAdapter) SetTcpKeepaliveCnt(v int) error {
	return a.subSocket.(interface{ SetTcpKeepaliveCnt(int) error }).SetTcpKeepaliveCnt(v)
}
func (a socketKeepaliveAdapter) SetTcpKeepaliveIntvl(v int) error {
	return a.subSocket.(interface{ SetTcpKeepaliveIntvl(int) error }).SetTcpKeepaliveIntvl(v)
}
