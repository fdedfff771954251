package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/tenzoki/zmesh/internal/wireconfig"
)

type fakeSubSocket struct {
	mu            sync.Mutex
	linger        time.Duration
	subscriptions []string
	identity      string
	ivl, ivlMax   time.Duration
	ipv6          bool
	rcvtimeo      time.Duration
	connectedTo   string
	closed        bool

	recvQueue [][][]byte
}

func (f *fakeSubSocket) SetLinger(d time.Duration) error { f.linger = d; return nil }
func (f *fakeSubSocket) SetSubscribe(topic string) error {
	f.subscriptions = append(f.subscriptions, topic)
	return nil
}
func (f *fakeSubSocket) SetIdentity(id string) error              { f.identity = id; return nil }
func (f *fakeSubSocket) SetReconnectIvl(d time.Duration) error    { f.ivl = d; return nil }
func (f *fakeSubSocket) SetReconnectIvlMax(d time.Duration) error { f.ivlMax = d; return nil }
func (f *fakeSubSocket) SetIpv6(v bool) error                     { f.ipv6 = v; return nil }
func (f *fakeSubSocket) SetRcvtimeo(d time.Duration) error        { f.rcvtimeo = d; return nil }
func (f *fakeSubSocket) Connect(uri string) error                 { f.connectedTo = uri; return nil }
func (f *fakeSubSocket) Close() error                             { f.closed = true; return nil }

// RecvMessageBytes simulates a real socket's RCVTIMEO: with nothing queued
// and a positive timeout set, it sleeps that long before reporting elapse,
// rather than returning errNoMessage immediately as the blocking-forever
// case would.
func (f *fakeSubSocket) RecvMessageBytes(flags zmq4.Flag) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recvQueue) == 0 {
		if flags != zmq4.DONTWAIT && f.rcvtimeo > 0 {
			time.Sleep(f.rcvtimeo)
		}
		return nil, errNoMessage
	}
	msg := f.recvQueue[0]
	f.recvQueue = f.recvQueue[1:]
	return msg, nil
}

var errNoMessage = &fakeErr{"no message queued"}

type fakeErr struct{ s string }

func (e *fakeErr) Error() string { return e.s }

func TestNewUnfilteredSubscribesToEmptyTopic(t *testing.T) {
	sock := &fakeSubSocket{}
	cfg := SubscriberConfig{
		Endpoint: wireconfig.Endpoint{Host: "10.0.0.1", Port: 4505},
		Identity: "m1",
	}
	c, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(sock.subscriptions) != 1 || sock.subscriptions[0] != "" {
		t.Errorf("subscriptions = %v, want [\"\"]", sock.subscriptions)
	}
	if sock.linger != -1*time.Millisecond {
		t.Errorf("linger = %v", sock.linger)
	}
	_ = c
}

func TestNewFilteredSubscribesBroadcastAndOwnHash(t *testing.T) {
	sock := &fakeSubSocket{}
	cfg := SubscriberConfig{
		Endpoint:  wireconfig.Endpoint{Host: "10.0.0.1", Port: 4505},
		Filtering: true,
		Identity:  "m1",
	}
	_, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"broadcast", TopicHash("m1")}
	if len(sock.subscriptions) != 2 || sock.subscriptions[0] != want[0] || sock.subscriptions[1] != want[1] {
		t.Errorf("subscriptions = %v, want %v", sock.subscriptions, want)
	}
}

func TestNewRejectsInvalidEndpoint(t *testing.T) {
	sock := &fakeSubSocket{}
	_, err := New(SubscriberConfig{}, sock)
	if err == nil {
		t.Fatal("expected ConfigError for empty endpoint")
	}
}

func TestNewIpv6HintedFromAddress(t *testing.T) {
	sock := &fakeSubSocket{}
	cfg := SubscriberConfig{Endpoint: wireconfig.Endpoint{Host: "::1", Port: 4505}}
	_, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !sock.ipv6 {
		t.Error("expected ipv6 to be hinted from colon-containing host")
	}
}

func TestRecvReturnsDecodedPayload(t *testing.T) {
	sock := &fakeSubSocket{recvQueue: [][][]byte{{[]byte("broadcast"), []byte("cmd")}}}
	cfg := SubscriberConfig{Endpoint: wireconfig.Endpoint{Host: "h", Port: 1}, Filtering: true, Identity: "m1"}
	c, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload, err := c.Recv(nil)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "cmd" {
		t.Errorf("payload = %q, want cmd", payload)
	}
}

func TestRecvDropsNonMatchingTopic(t *testing.T) {
	sock := &fakeSubSocket{recvQueue: [][][]byte{{[]byte("other"), []byte("cmd")}}}
	cfg := SubscriberConfig{Endpoint: wireconfig.Endpoint{Host: "h", Port: 1}, Filtering: true, Identity: "m1"}
	c, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload, err := c.Recv(nil)
	if err != nil || payload != nil {
		t.Errorf("payload=%v err=%v, want nil,nil", payload, err)
	}
}

func TestRecvWithPositiveTimeoutBoundsTheWait(t *testing.T) {
	sock := &fakeSubSocket{}
	cfg := SubscriberConfig{Endpoint: wireconfig.Endpoint{Host: "h", Port: 1}, Identity: "m1"}
	c, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := 20 * time.Millisecond
	start := time.Now()
	payload, err := c.Recv(&d)
	elapsed := time.Since(start)

	if err != nil || payload != nil {
		t.Errorf("payload=%v err=%v, want nil,nil", payload, err)
	}
	if elapsed >= time.Second {
		t.Errorf("Recv took %v, want bounded by the %v timeout", elapsed, d)
	}
	if sock.rcvtimeo != d {
		t.Errorf("rcvtimeo = %v, want %v", sock.rcvtimeo, d)
	}
}

func TestOnRecvDispatchesAndCancelStopsLoop(t *testing.T) {
	sock := &fakeSubSocket{recvQueue: [][][]byte{{[]byte("hello")}}}
	cfg := SubscriberConfig{Endpoint: wireconfig.Endpoint{Host: "h", Port: 1}, Identity: "m1"}
	c, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	received := make(chan []byte, 1)
	sub := c.OnRecv(func(msg []byte) {
		select {
		case received <- msg:
		default:
		}
	})

	select {
	case msg := <-received:
		if string(msg) != "hello" {
			t.Errorf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
	sub.Cancel()
}

func TestCloseIsIdempotent(t *testing.T) {
	sock := &fakeSubSocket{}
	cfg := SubscriberConfig{Endpoint: wireconfig.Endpoint{Host: "h", Port: 1}}
	c, err := New(cfg, sock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if !sock.closed {
		t.Error("expected underlying socket to be closed")
	}
}
