// Package master is the embeddable facade a master process uses to stand
// up the request broker's worker pool and the publish daemon, wiring the
// internal reqrep and pubsub packages together the way a standalone
// binary would without repeating their construction details. The router
// and dealer queue device itself (Stage A) runs in a dedicated forked
// process — see cmd/zmesh-broker — supervised here via procspawn.
package master

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/keepalive"
	"github.com/tenzoki/zmesh/internal/procspawn"
	"github.com/tenzoki/zmesh/internal/pubsub"
	"github.com/tenzoki/zmesh/internal/reqrep"
	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

// Master bundles the worker pool and publish daemon a master process
// needs, built from a single wireconfig.Config. Stage A (the broker
// queue device) is supervised as a subprocess rather than constructed
// in-process, per spec.md §4.6's "dedicated process" requirement.
type Master struct {
	cfg  *wireconfig.Config
	zctx *zmq4.Context

	brokerProc *procspawn.Process

	workersMu sync.Mutex
	workers   []*reqrep.Worker

	daemon   *pubsub.Daemon
	producer *pubsub.Producer
}

// New creates the ZeroMQ context shared by this master's workers and
// publish daemon.
func New(cfg *wireconfig.Config) (*Master, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create zmq context: %w", err)
	}
	return &Master{cfg: cfg, zctx: zctx}, nil
}

// StartBroker spawns the Stage A queue-device binary as a supervised
// subprocess, passing it the configuration file path it should load.
func (m *Master) StartBroker(ctx context.Context, brokerBinary, configPath string) error {
	proc, err := procspawn.Spawn(ctx, "broker", brokerBinary, []string{"--config", configPath}, nil)
	if err != nil {
		return err
	}
	m.brokerProc = proc
	return nil
}

// StartWorkers launches n Stage B reply handlers, each on its own
// goroutine, connected to the same worker-pool endpoint Stage A's
// dealer_back listens on.
func (m *Master) StartWorkers(ctx context.Context, n int, handler reqrep.Handler) error {
	endpoint := m.cfg.WorkersEndpoint()
	log := wirelog.For("master")

	for i := 0; i < n; i++ {
		sock, err := m.zctx.NewSocket(zmq4.REP)
		if err != nil {
			return fmt.Errorf("create worker socket %d: %w", i, err)
		}
		worker, err := reqrep.NewWorker(sock, endpoint, handler)
		if err != nil {
			return fmt.Errorf("start worker %d: %w", i, err)
		}

		m.workersMu.Lock()
		m.workers = append(m.workers, worker)
		m.workersMu.Unlock()

		go func(id int, w *reqrep.Worker) {
			log.Info().Int("worker", id).Msg("worker started")
			w.Run(ctx)
		}(i, worker)
	}
	return nil
}

// StartPublisher binds the publish daemon's pull and fan-out sockets and
// begins its forwarding loop on a dedicated goroutine.
func (m *Master) StartPublisher(ctx context.Context, pullEndpoint, pubEndpoint wireconfig.Endpoint) error {
	pull, err := m.zctx.NewSocket(zmq4.PULL)
	if err != nil {
		return fmt.Errorf("create pull socket: %w", err)
	}
	pub, err := m.zctx.NewSocket(zmq4.PUB)
	if err != nil {
		return fmt.Errorf("create pub socket: %w", err)
	}

	daemon, err := pubsub.NewDaemon(pubsub.PublisherConfig{
		PullEndpoint: pullEndpoint,
		PubEndpoint:  pubEndpoint,
		Filtering:    m.cfg.ZmqFiltering,
		OrderMasters: m.cfg.OrderMasters,
		HWM:          m.cfg.PubHWM,
		Backlog:      m.cfg.ZmqBacklog,
		IPv6:         m.cfg.IPv6,
		MonitorName:  "publisher",
	}, pull, pub)
	if err != nil {
		return err
	}
	if m.cfg.ZmqMonitor {
		if err := daemon.AttachMonitor(m.zctx, pub); err != nil {
			wirelog.For("master").Warn().Err(err).Msg("failed to attach publisher monitor")
		}
	}
	m.daemon = daemon

	go func() {
		if err := daemon.Run(ctx); err != nil && ctx.Err() == nil {
			wirelog.For("master").Error().Err(err).Msg("publisher daemon stopped")
		}
	}()
	return nil
}

// Producer lazily creates this master's in-process producer, connected to
// its own publish daemon's ingress socket.
func (m *Master) Producer(pullURI string) (*pubsub.Producer, error) {
	if m.producer != nil {
		return m.producer, nil
	}
	sock, err := m.zctx.NewSocket(zmq4.PUSH)
	if err != nil {
		return nil, fmt.Errorf("create producer socket: %w", err)
	}
	p, err := pubsub.NewProducer(sock, pullURI)
	if err != nil {
		return nil, err
	}
	m.producer = p
	return p, nil
}

// KeepaliveFromConfig builds a keepalive.Policy from this master's config.
func (m *Master) KeepaliveFromConfig() keepalive.Policy {
	return keepalive.Policy{
		Enabled:  m.cfg.TCPKeepalive,
		Idle:     m.cfg.TCPKeepaliveIdle,
		Count:    m.cfg.TCPKeepaliveCnt,
		Interval: m.cfg.TCPKeepaliveIntvl,
	}
}

// Run blocks until ctx is cancelled or the process receives SIGINT/SIGTERM,
// then closes every owned resource.
func (m *Master) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
	}
	return m.Close()
}

// Close stops the broker subprocess, every worker, the publish daemon, the
// producer, and the ZeroMQ context. Idempotent.
func (m *Master) Close() error {
	if m.brokerProc != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.brokerProc.Stop(stopCtx, 2*time.Second)
	}

	m.workersMu.Lock()
	for _, w := range m.workers {
		_ = w.Close()
	}
	m.workers = nil
	m.workersMu.Unlock()

	if m.daemon != nil {
		_ = m.daemon.Close()
	}
	if m.producer != nil {
		_ = m.producer.Close()
	}
	return m.zctx.Term()
}
