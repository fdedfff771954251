// Package minion is the embeddable facade a minion process uses to join
// the publish channel and issue requests to the master, wiring the
// internal subscriber and request-client packages together the way a
// standalone binary would without repeating their construction details.
package minion

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/keepalive"
	"github.com/tenzoki/zmesh/internal/pubsub"
	"github.com/tenzoki/zmesh/internal/reqrep"
	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

// CommandHandler processes one delivered publish payload.
type CommandHandler func(payload []byte)

// Minion bundles the subscriber and request clients a minion process
// needs, built from a single wireconfig.Config.
type Minion struct {
	cfg  *wireconfig.Config
	zctx *zmq4.Context

	sub          *pubsub.SubscriberClient
	subscription *pubsub.Subscription
	req          *reqrep.Client
}

// New builds a minion's subscriber and request client from cfg but does
// not connect either. Call Connect before OnCommand/SendRequest.
func New(cfg *wireconfig.Config) (*Minion, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create zmq context: %w", err)
	}

	subSock, err := zctx.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("create sub socket: %w", err)
	}
	subCfg := pubsub.SubscriberConfig{
		Endpoint:       cfg.PublishEndpoint(),
		SourceIP:       cfg.SourceIP,
		SourcePort:     cfg.SourcePort,
		Filtering:      cfg.ZmqFiltering,
		Role:           cfg.Role,
		Identity:       cfg.ID,
		Keepalive:      keepalivePolicy(cfg),
		ReconDefault:   cfg.ReconDefault,
		ReconMax:       cfg.ReconMax,
		ReconRandomize: cfg.ReconRandomize,
		IPv6:           cfg.IPv6,
	}
	if cfg.ZmqMonitor {
		subCfg.MonitorName = "minion-sub-" + cfg.ID
	}
	sub, err := pubsub.New(subCfg, subSock)
	if err != nil {
		return nil, err
	}
	if cfg.ZmqMonitor {
		if err := sub.AttachMonitor(zctx, subSock); err != nil {
			wirelog.For("minion").Warn().Err(err).Msg("failed to attach subscriber monitor")
		}
	}

	req := reqrep.NewZMQClient(reqrep.ClientConfig{
		MasterURI:     cfg.MasterURI,
		MasterIP:      cfg.MasterIP,
		MasterPort:    cfg.MasterPort,
		SourceIP:      cfg.SourceIP,
		SourceRetPort: cfg.SourceRetPort,
		Keepalive:     keepalivePolicy(cfg),
		ReconMax:      cfg.ReconMax,
		IPv6:          cfg.IPv6,
		DetectMode:    cfg.DetectMode,
	}, zctx)

	return &Minion{cfg: cfg, zctx: zctx, sub: sub, req: req}, nil
}

func keepalivePolicy(cfg *wireconfig.Config) keepalive.Policy {
	return keepalive.Policy{
		Enabled:  cfg.TCPKeepalive,
		Idle:     cfg.TCPKeepaliveIdle,
		Count:    cfg.TCPKeepaliveCnt,
		Interval: cfg.TCPKeepaliveIntvl,
	}
}

// Connect connects the subscriber to the publish channel.
func (m *Minion) Connect(versionFn func() (int, int, int)) error {
	return m.sub.Connect(0, versionFn)
}

// OnCommand registers handler against every delivered publish payload.
// Only one registration is kept; calling it again replaces the previous
// subscription.
func (m *Minion) OnCommand(handler CommandHandler) {
	if m.subscription != nil {
		m.subscription.Cancel()
	}
	m.subscription = m.sub.OnRecv(func(payload []byte) { handler(payload) })
}

// SendRequest issues a single serialized request to the master and
// returns its reply.
func (m *Minion) SendRequest(payload []byte) ([]byte, error) {
	return m.req.Send(payload)
}

// Run blocks until ctx is cancelled or the process receives SIGINT/SIGTERM,
// then closes every owned resource.
func (m *Minion) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
	}
	return m.Close()
}

// Close releases the subscriber, request client, and ZeroMQ context.
// Idempotent.
func (m *Minion) Close() error {
	_ = m.sub.Close()
	_ = m.req.Close()
	return m.zctx.Term()
}
