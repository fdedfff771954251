// Package reqrep implements the request channel: a serialized client that
// sends one opaque payload and awaits one opaque reply, and the master's
// two-stage broker that bridges many clients to a worker pool.
package reqrep

import (
	"strings"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/keepalive"
	"github.com/tenzoki/zmesh/internal/wireerr"
	"github.com/tenzoki/zmesh/internal/wirelog"
	"github.com/tenzoki/zmesh/internal/wireuri"
)

// reqSocket is the subset of *zmq4.Socket the Client depends on.
type reqSocket interface {
	SetLinger(time.Duration) error
	SetIpv6(bool) error
	SetReconnectIvlMax(time.Duration) error
	SetRcvtimeo(time.Duration) error
	Connect(string) error
	SendBytes(data []byte, flags zmq4.Flag) (int, error)
	RecvBytes(flags zmq4.Flag) ([]byte, error)
	Close() error
}

var _ reqSocket = (*zmq4.Socket)(nil)

// SocketFactory builds a fresh request socket, used by Client to
// reconnect after a transport error without constructing sockets itself.
type SocketFactory func() (reqSocket, error)

// ClientConfig configures connection resolution and socket options.
type ClientConfig struct {
	MasterURI string // explicit override; takes precedence if non-empty

	MasterIP      string
	MasterPort    int
	SourceIP      string
	SourceRetPort int

	Keepalive      keepalive.Policy
	ReconMax       int
	IPv6           bool
	DetectMode     bool // forces a 1s timeout, per spec.md §6
	DefaultTimeout time.Duration

	VersionFn wireuri.VersionFunc
}

func (c ClientConfig) resolveURI() (string, error) {
	if c.MasterURI != "" {
		return c.MasterURI, nil
	}
	if c.MasterIP == "" || c.MasterPort == 0 {
		return "", wireerr.NewConfigError("master_uri", "neither master_uri nor master_ip/master_port is configured")
	}
	versionFn := c.VersionFn
	if versionFn == nil {
		versionFn = func() (int, int, int) { return zmq4.Version() }
	}
	return wireuri.Compose(c.MasterIP, c.MasterPort, c.SourceIP, c.SourceRetPort, versionFn), nil
}

// Client maintains a single request socket, serializing every send/recv
// round-trip through a mutex so at most one request is ever in flight.
type Client struct {
	cfg     ClientConfig
	factory SocketFactory

	mu        sync.Mutex
	sock      reqSocket
	connected bool
	uri       string
}

// NewClient returns a Client that lazily connects on the first Send.
func NewClient(cfg ClientConfig, factory SocketFactory) *Client {
	return &Client{cfg: cfg, factory: factory}
}

// NewZMQClient is the convenience entry point for callers outside this
// package: it builds a Client backed by a fresh REQ socket from zctx on
// every (re)connect, without needing to name this package's unexported
// socket interface.
func NewZMQClient(cfg ClientConfig, zctx *zmq4.Context) *Client {
	return NewClient(cfg, func() (reqSocket, error) {
		return zctx.NewSocket(zmq4.REQ)
	})
}

func (c *Client) ensureConnectedLocked() error {
	if c.connected {
		return nil
	}
	sock, err := c.factory()
	if err != nil {
		return wireerr.NewTransportError("create socket", err)
	}
	if err := sock.SetLinger(-1 * time.Millisecond); err != nil {
		return wireerr.NewTransportError("set linger", err)
	}
	uri, err := c.cfg.resolveURI()
	if err != nil {
		return err
	}
	ipv6 := c.cfg.IPv6 || strings.HasPrefix(uri, "tcp://[")
	if err := sock.SetIpv6(ipv6); err != nil {
		return wireerr.NewTransportError("set ipv6", err)
	}
	if ka, ok := sock.(interface {
		SetTcpKeepalive(int) error
		SetTcpKeepaliveIdle(int) error
		SetTcpKeepaliveCnt(int) error
		SetTcpKeepaliveIntvl(int) error
	}); ok {
		keepalive.Apply(ka, c.cfg.Keepalive)
	}
	if c.cfg.ReconMax > 0 {
		_ = sock.SetReconnectIvlMax(time.Duration(c.cfg.ReconMax) * time.Millisecond)
	}

	if err := sock.Connect(uri); err != nil {
		return wireerr.NewTransportError("connect "+uri, err)
	}
	c.sock = sock
	c.uri = uri
	c.connected = true
	return nil
}

func (c *Client) closeLocked() {
	if c.sock != nil {
		_ = c.sock.Close()
	}
	c.sock = nil
	c.connected = false
}

func (c *Client) timeout() time.Duration {
	if c.cfg.DetectMode {
		return time.Second
	}
	if c.cfg.DefaultTimeout > 0 {
		return c.cfg.DefaultTimeout
	}
	return 60 * time.Second
}

// Send serializes request as a byte payload and blocks for at most the
// configured timeout awaiting a reply. On a transient transport error it
// closes the socket, reconnects, and retries exactly once within the same
// lock hold. On overall deadline elapse it closes the socket and returns a
// RequestTimeout.
func (c *Client) Send(request []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout())
	reply, err := c.roundTrip(request, deadline)
	if err == nil {
		return reply, nil
	}

	if _, isTimeout := err.(*wireerr.RequestTimeout); isTimeout {
		c.closeLocked()
		return nil, err
	}

	// Transport error: close, reconnect, retry exactly once.
	wirelog.For("reqrep.client").Warn().Err(err).Msg("transport error, reconnecting and retrying once")
	c.closeLocked()
	if err := c.ensureConnectedLocked(); err != nil {
		return nil, err
	}
	reply, err = c.roundTrip(request, deadline)
	if err != nil {
		c.closeLocked()
		return nil, err
	}
	return reply, nil
}

// roundTrip sends request and blocks for at most remaining (derived from
// deadline) awaiting a reply, bounding the receive with SetRcvtimeo rather
// than racing a second goroutine against the socket: RecvBytes is called
// synchronously, the same way Worker.Run bounds its own receive, so the
// socket is never touched from two goroutines at once.
func (c *Client) roundTrip(request []byte, deadline time.Time) ([]byte, error) {
	if _, err := c.sock.SendBytes(request, 0); err != nil {
		return nil, wireerr.NewTransportError("send", err)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, &wireerr.RequestTimeout{Elapsed: c.timeout().String()}
	}
	if err := c.sock.SetRcvtimeo(remaining); err != nil {
		return nil, wireerr.NewTransportError("set rcvtimeo", err)
	}

	data, err := c.sock.RecvBytes(0)
	if err != nil {
		if !time.Now().Before(deadline) {
			return nil, &wireerr.RequestTimeout{Elapsed: c.timeout().String()}
		}
		return nil, wireerr.NewTransportError("recv", err)
	}
	return data, nil
}

// Close releases the socket. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
