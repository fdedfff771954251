package reqrep

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wireerr"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

// BrokerConfig configures Stage A: the router/dealer queue device spawned
// into its own OS process by pre-fork.
type BrokerConfig struct {
	Interface string
	RetPort   int
	Backlog   int
	IPv6      bool

	WorkersEndpoint wireconfig.Endpoint // TCP (127.0.0.1:tcp_master_workers) or IPC (sock_dir/workers.ipc)
	Niceness        int
}

// Broker bridges router_front (public-facing) to dealer_back (worker-pool
// facing) with a fair-queueing device. It is the only component in this
// package meant to run inside a dedicated, forked OS process: the queue
// device call blocks the calling thread for the device's entire lifetime.
type Broker struct {
	cfg    BrokerConfig
	ctx    *zmq4.Context
	router *zmq4.Socket
	dealer *zmq4.Socket
}

// NewBroker creates and binds both sockets per cfg.
func NewBroker(zctx *zmq4.Context, cfg BrokerConfig) (*Broker, error) {
	router, err := zctx.NewSocket(zmq4.ROUTER)
	if err != nil {
		return nil, wireerr.NewTransportError("create router", err)
	}
	if err := router.SetLinger(-1 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("router linger", err)
	}
	if cfg.Backlog > 0 {
		_ = router.SetBacklog(cfg.Backlog)
	}
	if err := router.SetIpv6(cfg.IPv6); err != nil {
		return nil, wireerr.NewTransportError("router ipv6", err)
	}
	frontAddr := fmt.Sprintf("tcp://%s:%d", cfg.Interface, cfg.RetPort)
	if err := router.Bind(frontAddr); err != nil {
		return nil, wireerr.NewTransportError("bind "+frontAddr, err)
	}

	dealer, err := zctx.NewSocket(zmq4.DEALER)
	if err != nil {
		_ = router.Close()
		return nil, wireerr.NewTransportError("create dealer", err)
	}
	if err := dealer.SetLinger(-1 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("dealer linger", err)
	}
	backAddr, err := endpointURI(cfg.WorkersEndpoint)
	if err != nil {
		return nil, err
	}
	if err := dealer.Bind(backAddr); err != nil {
		return nil, wireerr.NewTransportError("bind "+backAddr, err)
	}
	if cfg.WorkersEndpoint.IsIPC() {
		mode := cfg.WorkersEndpoint.Mode
		if mode == 0 {
			mode = 0o600
		}
		_ = os.Chmod(cfg.WorkersEndpoint.Path, mode)
	}

	if cfg.Niceness != 0 && runtime.GOOS != "windows" {
		if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, cfg.Niceness); err != nil {
			wirelog.For("reqrep.broker").Warn().Err(err).Msg("failed to lower process priority")
		}
	}

	return &Broker{cfg: cfg, ctx: zctx, router: router, dealer: dealer}, nil
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

// Run installs SIGINT/SIGTERM handlers and blocks running the queue
// device until a signal arrives or the device itself errors. It returns
// nil on clean signal-driven shutdown.
func (b *Broker) Run() error {
	log := wirelog.For("reqrep.broker")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.runDevice()
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("broker shutting down")
		b.Close()
		return nil
	case err := <-errCh:
		b.Close()
		return err
	}
}

// runDevice runs zmq4.Device(QUEUE, ...), retrying on EINTR and
// propagating any other error, per spec.md §4.6.
func (b *Broker) runDevice() error {
	for {
		err := zmq4.Device(zmq4.QUEUE, b.router, b.dealer)
		if err == nil {
			return nil
		}
		if errno, ok := err.(zmq4.Errno); ok && syscall.Errno(errno) == syscall.EINTR {
			continue
		}
		return wireerr.NewTransportError("queue device", err)
	}
}

// Close terminates both sockets and the context. Idempotent in the sense
// that double-close errors from an already-terminated context are
// swallowed.
func (b *Broker) Close() {
	_ = b.router.Close()
	_ = b.dealer.Close()
	_ = b.ctx.Term()
}
