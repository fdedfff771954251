// Package socketmon attaches a ZeroMQ monitor socket to a parent socket
// and logs its lifecycle events at debug level, self-stopping on the
// terminal EVENT_MONITOR_STOPPED event. It offers both an async entry
// point for components that run a goroutine-based scheduler and a
// blocking entry point for the broker's Stage A, which has none.
package socketmon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/wirelog"
)

var (
	eventNamesOnce sync.Once
	eventNames     map[zmq4.Event]string
)

func buildEventNames() map[zmq4.Event]string {
	return map[zmq4.Event]string{
		zmq4.EVENT_CONNECTED:       "EVENT_CONNECTED",
		zmq4.EVENT_CONNECT_DELAYED: "EVENT_CONNECT_DELAYED",
		zmq4.EVENT_CONNECT_RETRIED: "EVENT_CONNECT_RETRIED",
		zmq4.EVENT_LISTENING:       "EVENT_LISTENING",
		zmq4.EVENT_BIND_FAILED:     "EVENT_BIND_FAILED",
		zmq4.EVENT_ACCEPTED:        "EVENT_ACCEPTED",
		zmq4.EVENT_ACCEPT_FAILED:   "EVENT_ACCEPT_FAILED",
		zmq4.EVENT_CLOSED:          "EVENT_CLOSED",
		zmq4.EVENT_CLOSE_FAILED:    "EVENT_CLOSE_FAILED",
		zmq4.EVENT_DISCONNECTED:    "EVENT_DISCONNECTED",
		zmq4.EVENT_MONITOR_STOPPED: "EVENT_MONITOR_STOPPED",
	}
}

// EventName maps a raw zmq4.Event code to its symbolic name, building the
// table lazily from the library's EVENT_* constants on first use and
// caching it. An event code outside the known set formats as
// "UNKNOWN(code)" rather than panicking.
func EventName(e zmq4.Event) string {
	eventNamesOnce.Do(func() { eventNames = buildEventNames() })
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", e)
}

// monitoredSocket is the subset of *zmq4.Socket a Monitor needs from its
// parent, so the disable-on-stop call can be exercised without a real
// libzmq context in tests.
type monitoredSocket interface {
	Monitor(addr string, events zmq4.Event) error
}

var _ monitoredSocket = (*zmq4.Socket)(nil)

// eventSocket is the subset consumed from the monitor's own PAIR socket.
type eventSocket interface {
	RecvEvent(flags zmq4.Flag) (event zmq4.Event, addr string, value int, err error)
	Close() error
}

var _ eventSocket = (*zmq4.Socket)(nil)

// Monitor watches one parent socket's lifecycle events.
type Monitor struct {
	name    string
	parent  monitoredSocket
	events  eventSocket
	mu      sync.Mutex
	stopped bool
	running int32
}

// New attaches a monitor to parent, returning a Monitor ready for
// StartAsync or StartBlocking. ctx is the ZeroMQ context used to create
// the monitor's own PAIR socket; name is used only to namespace the
// inproc monitor endpoint and in log lines.
func New(ctx *zmq4.Context, parent *zmq4.Socket, name string) (*Monitor, error) {
	addr := fmt.Sprintf("inproc://zmesh-monitor-%s-%s", name, uuid.New().String())
	if err := parent.Monitor(addr, zmq4.EVENT_ALL); err != nil {
		return nil, fmt.Errorf("enable monitor: %w", err)
	}
	evSock, err := ctx.NewSocket(zmq4.PAIR)
	if err != nil {
		return nil, fmt.Errorf("create monitor socket: %w", err)
	}
	if err := evSock.Connect(addr); err != nil {
		_ = evSock.Close()
		return nil, fmt.Errorf("connect monitor socket: %w", err)
	}
	return &Monitor{name: name, parent: parent, events: evSock}, nil
}

// StartAsync polls the event socket on its own goroutine until ctx is
// cancelled, Stop is called, or the terminal event arrives.
func (m *Monitor) StartAsync(ctx context.Context) {
	atomic.StoreInt32(&m.running, 1)
	log := wirelog.For("monitor").With().Str("socket", m.name).Logger()
	go func() {
		for atomic.LoadInt32(&m.running) == 1 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			event, addr, value, err := m.events.RecvEvent(0)
			if err != nil {
				return
			}
			log.Debug().Str("event", EventName(event)).Str("endpoint", addr).Int("value", value).Msg("socket event")
			if event == zmq4.EVENT_MONITOR_STOPPED {
				m.Stop()
				return
			}
		}
	}()
}

// StartBlocking runs the identical poll loop synchronously, for use inside
// the forked broker process where no async scheduler exists. Any receive
// error — including a context-terminated error during shutdown — ends the
// loop silently.
func (m *Monitor) StartBlocking() {
	atomic.StoreInt32(&m.running, 1)
	log := wirelog.For("monitor").With().Str("socket", m.name).Logger()
	for atomic.LoadInt32(&m.running) == 1 {
		event, addr, value, err := m.events.RecvEvent(0)
		if err != nil {
			return
		}
		log.Debug().Str("event", EventName(event)).Str("endpoint", addr).Int("value", value).Msg("socket event")
		if event == zmq4.EVENT_MONITOR_STOPPED {
			m.Stop()
			return
		}
	}
}

// Stop disables monitoring on the parent socket, clears the run flag, and
// releases the event socket. Idempotent: a second call is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	atomic.StoreInt32(&m.running, 0)
	_ = m.parent.Monitor("", 0) // disable; errors during shutdown are expected and swallowed
	if m.events != nil {
		_ = m.events.Close()
		m.events = nil
	}
}
