package pubsub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/socketmon"
	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wireerr"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

// pushSocket is the producer's ingress-facing socket surface.
type pushSocket interface {
	SetLinger(time.Duration) error
	Connect(string) error
	SendMessage(parts ...interface{}) (int, error)
	Close() error
}

var _ pushSocket = (*zmq4.Socket)(nil)

// Producer pushes opaque publish payloads into a PublishServer's ingress
// queue. It never blocks on a reply: there is none.
type Producer struct {
	sock pushSocket
}

// NewProducer connects sock (expected to be a PUSH socket) to pullURI.
func NewProducer(sock pushSocket, pullURI string) (*Producer, error) {
	if err := sock.SetLinger(-1 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("set linger", err)
	}
	if err := sock.Connect(pullURI); err != nil {
		return nil, wireerr.NewTransportError("connect "+pullURI, err)
	}
	return &Producer{sock: sock}, nil
}

// Publish sends payload for fan-out, optionally restricted to topics. A
// nil or empty topics list means "broadcast" under filtering, or is
// ignored entirely when filtering is disabled.
func (p *Producer) Publish(payload []byte, topics []string) error {
	frame := strings.Join(topics, ",")
	if _, err := p.sock.SendMessage(frame, payload); err != nil {
		return wireerr.NewTransportError("publish", err)
	}
	return nil
}

// Close releases the producer's socket.
func (p *Producer) Close() error {
	return p.sock.Close()
}

// pullSocket is the daemon's ingress socket surface.
type pullSocket interface {
	SetLinger(time.Duration) error
	SetRcvtimeo(time.Duration) error
	Bind(string) error
	RecvMessageBytes(flags zmq4.Flag) ([][]byte, error)
	Close() error
}

var _ pullSocket = (*zmq4.Socket)(nil)

// fanoutSocket is the daemon's publish-facing socket surface.
type fanoutSocket interface {
	SetSndhwm(int) error
	SetRcvhwm(int) error
	SetHWM(int) error
	SetBacklog(int) error
	SetLinger(time.Duration) error
	SetIpv6(bool) error
	Bind(string) error
	SendMessage(parts ...interface{}) (int, error)
	Close() error
	Monitor(addr string, events zmq4.Event) error
}

var _ fanoutSocket = (*zmq4.Socket)(nil)

func applyHWM(sock fanoutSocket, hwm int) {
	if err := sock.SetSndhwm(hwm); err != nil {
		_ = sock.SetHWM(hwm)
	}
	_ = sock.SetRcvhwm(hwm)
}

// PublisherConfig configures the daemon half of a PublishServer.
type PublisherConfig struct {
	PullEndpoint wireconfig.Endpoint
	PubEndpoint  wireconfig.Endpoint

	Filtering    bool
	OrderMasters bool

	HWM         int
	Backlog     int
	IPv6        bool
	MonitorName string
}

// Daemon is the forked-subprocess half of a PublishServer: it pulls opaque
// payloads from its ingress socket and fans them out with optional topic
// framing.
type Daemon struct {
	cfg     PublisherConfig
	pull    pullSocket
	pub     fanoutSocket
	monitor *socketmon.Monitor
	started chan struct{}
}

// NewDaemon binds pull and pub per cfg and signals Started once both
// sockets are bound, mirroring the producer/daemon cross-process "started"
// handshake.
func NewDaemon(cfg PublisherConfig, pull pullSocket, pub fanoutSocket) (*Daemon, error) {
	pullURI, err := endpointURI(cfg.PullEndpoint)
	if err != nil {
		return nil, err
	}
	pubURI, err := endpointURI(cfg.PubEndpoint)
	if err != nil {
		return nil, err
	}

	if err := pull.SetLinger(-1 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("set pull linger", err)
	}
	// Bound each ingress receive so Run observes ctx cancellation.
	if err := pull.SetRcvtimeo(300 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("set pull rcvtimeo", err)
	}
	if err := pull.Bind(pullURI); err != nil {
		return nil, wireerr.NewTransportError("bind "+pullURI, err)
	}

	applyHWM(pub, cfg.HWM)
	if cfg.Backlog > 0 {
		_ = pub.SetBacklog(cfg.Backlog)
	}
	if err := pub.SetLinger(-1 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("set pub linger", err)
	}
	if err := pub.SetIpv6(cfg.IPv6); err != nil {
		return nil, wireerr.NewTransportError("set ipv6", err)
	}
	if err := pub.Bind(pubURI); err != nil {
		return nil, wireerr.NewTransportError("bind "+pubURI, err)
	}

	d := &Daemon{cfg: cfg, pull: pull, pub: pub, started: make(chan struct{})}
	close(d.started)
	return d, nil
}

func endpointURI(ep wireconfig.Endpoint) (string, error) {
	if err := ep.Validate(); err != nil {
		return "", err
	}
	if ep.IsIPC() {
		return "ipc://" + ep.Path, nil
	}
	return fmt.Sprintf("tcp://%s:%d", ep.Host, ep.Port), nil
}

// Started is closed once both daemon sockets are bound.
func (d *Daemon) Started() <-chan struct{} { return d.started }

// AttachMonitor wires a socket event monitor on the fan-out socket.
func (d *Daemon) AttachMonitor(zctx *zmq4.Context, realSock *zmq4.Socket) error {
	if d.cfg.MonitorName == "" {
		return nil
	}
	m, err := socketmon.New(zctx, realSock, d.cfg.MonitorName)
	if err != nil {
		return err
	}
	d.monitor = m
	m.StartAsync(context.Background())
	return nil
}

// Run pulls payloads until ctx is cancelled. Each pulled message is a
// two-frame [topics, payload] message, where topics is a comma-joined
// list (empty string means "no explicit topics"). Send errors are logged
// and the loop continues, per spec.md §4.7.
func (d *Daemon) Run(ctx context.Context) error {
	log := wirelog.For("pubsub.publisher")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frames, err := d.pull.RecvMessageBytes(0)
		if err != nil {
			continue
		}
		if len(frames) != 2 {
			log.Error().Int("frames", len(frames)).Msg("malformed ingress message")
			continue
		}
		var topics []string
		if raw := string(frames[0]); raw != "" {
			topics = strings.Split(raw, ",")
		}
		if err := d.publishPayload(frames[1], topics); err != nil {
			log.Error().Err(err).Msg("publish failed")
		}
	}
}

func (d *Daemon) publishPayload(payload []byte, topics []string) error {
	if !d.cfg.Filtering {
		_, err := d.pub.SendMessage(payload)
		return err
	}
	if len(topics) == 0 {
		_, err := d.pub.SendMessage([]byte(topicBroadcast), payload)
		return err
	}
	for _, topic := range topics {
		if _, err := d.pub.SendMessage(TopicHash(topic), payload); err != nil {
			return err
		}
	}
	if d.cfg.OrderMasters {
		if _, err := d.pub.SendMessage([]byte(topicSyndic), payload); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the monitor and releases both sockets.
func (d *Daemon) Close() error {
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if err := d.pub.Close(); err != nil {
		return fmt.Errorf("close pub socket: %w", err)
	}
	if err := d.pull.Close(); err != nil {
		return fmt.Errorf("close pull socket: %w", err)
	}
	return nil
}
