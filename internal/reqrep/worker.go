package reqrep

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wireerr"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

// Handler decodes a request payload and returns the serialized reply. A
// DeserializationError causes the worker to reply {"msg": "bad load"}
// without closing the socket; any other error is logged and the socket
// stays open for the next request.
type Handler func(request []byte) (reply []byte, err error)

// repSocket is the subset of *zmq4.Socket a Worker depends on.
type repSocket interface {
	Connect(string) error
	SetRcvtimeo(time.Duration) error
	RecvBytes(flags zmq4.Flag) ([]byte, error)
	SendBytes(data []byte, flags zmq4.Flag) (int, error)
	Close() error
}

var _ repSocket = (*zmq4.Socket)(nil)

var badLoadReply = []byte(`{"msg": "bad load"}`)

// Worker is one Stage B reply handler, created per worker via post-fork.
type Worker struct {
	sock    repSocket
	handler Handler

	mu       sync.Mutex
	shutdown chan struct{}
	closed   bool
}

// NewWorker connects sock (a REP socket) to the same endpoint Stage A's
// dealer_back listens on, chmod'ing the IPC path first if it already
// exists on disk.
func NewWorker(sock repSocket, endpoint wireconfig.Endpoint, handler Handler) (*Worker, error) {
	if endpoint.IsIPC() {
		if _, err := os.Stat(endpoint.Path); err == nil {
			mode := endpoint.Mode
			if mode == 0 {
				mode = 0o600
			}
			_ = os.Chmod(endpoint.Path, mode)
		}
	}
	if err := sock.SetRcvtimeo(300 * time.Millisecond); err != nil {
		return nil, wireerr.NewTransportError("set rcvtimeo", err)
	}
	uri, err := endpointURI(endpoint)
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(uri); err != nil {
		return nil, wireerr.NewTransportError("connect "+uri, err)
	}
	return &Worker{sock: sock, handler: handler, shutdown: make(chan struct{})}, nil
}

// Run loops receiving requests with a 300ms cooperative poll timeout until
// ctx is cancelled or Close is called. A receive timeout is not an error:
// the loop simply continues, which is how it observes the shutdown
// signal without blocking indefinitely.
func (w *Worker) Run(ctx context.Context) {
	log := wirelog.For("reqrep.worker")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		default:
		}

		req, err := w.sock.RecvBytes(0)
		if err != nil {
			continue
		}

		reply, err := w.handler(req)
		if err != nil {
			if _, ok := err.(*wireerr.DeserializationError); ok {
				reply = badLoadReply
			} else {
				log.Debug().Err(err).Msg("handler error")
				continue
			}
		}
		if _, err := w.sock.SendBytes(reply, 0); err != nil {
			log.Debug().Err(err).Msg("send reply failed")
		}
	}
}

// Close signals the run loop to stop and releases the socket. Idempotent.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.shutdown)
	return w.sock.Close()
}
