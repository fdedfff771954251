package pubsub

import (
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/tenzoki/zmesh/internal/wireconfig"
)

type fakePush struct {
	linger    time.Duration
	connected string
	sent      [][]interface{}
	closed    bool
}

func (f *fakePush) SetLinger(d time.Duration) error { f.linger = d; return nil }
func (f *fakePush) Connect(uri string) error         { f.connected = uri; return nil }
func (f *fakePush) SendMessage(parts ...interface{}) (int, error) {
	f.sent = append(f.sent, parts)
	return 0, nil
}
func (f *fakePush) Close() error { f.closed = true; return nil }

func TestProducerPublishSendsTopicsAndPayload(t *testing.T) {
	sock := &fakePush{}
	p, err := NewProducer(sock, "ipc:///tmp/pull.ipc")
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if sock.connected != "ipc:///tmp/pull.ipc" {
		t.Errorf("connected = %q", sock.connected)
	}
	if err := p.Publish([]byte("cmd"), []string{"m1", "m2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sock.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sock.sent))
	}
	frame0 := sock.sent[0][0].(string)
	if frame0 != "m1,m2" {
		t.Errorf("topics frame = %q", frame0)
	}
	if frame1 := sock.sent[0][1].([]byte); string(frame1) != "cmd" {
		t.Errorf("payload frame = %q, want cmd", frame1)
	}
}

type fakePull struct {
	bound   string
	linger  time.Duration
	queue   [][][]byte
	closed  bool
}

func (f *fakePull) SetLinger(d time.Duration) error { f.linger = d; return nil }
func (f *fakePull) SetRcvtimeo(d time.Duration) error { return nil }
func (f *fakePull) Bind(uri string) error            { f.bound = uri; return nil }
func (f *fakePull) RecvMessageBytes(flags zmq4.Flag) ([][]byte, error) {
	if len(f.queue) == 0 {
		return nil, errNoMessage
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}
func (f *fakePull) Close() error { f.closed = true; return nil }

type fakeFanout struct {
	sndhwm, rcvhwm, backlog int
	linger                  time.Duration
	ipv6                    bool
	bound                   string
	sent                    [][]interface{}
	closed                  bool
}

func (f *fakeFanout) SetSndhwm(v int) error  { f.sndhwm = v; return nil }
func (f *fakeFanout) SetRcvhwm(v int) error  { f.rcvhwm = v; return nil }
func (f *fakeFanout) SetHWM(v int) error     { return nil }
func (f *fakeFanout) SetBacklog(v int) error { f.backlog = v; return nil }
func (f *fakeFanout) SetLinger(d time.Duration) error { f.linger = d; return nil }
func (f *fakeFanout) SetIpv6(v bool) error            { f.ipv6 = v; return nil }
func (f *fakeFanout) Bind(uri string) error            { f.bound = uri; return nil }
func (f *fakeFanout) SendMessage(parts ...interface{}) (int, error) {
	f.sent = append(f.sent, parts)
	return 0, nil
}
func (f *fakeFanout) Close() error { f.closed = true; return nil }
func (f *fakeFanout) Monitor(addr string, events zmq4.Event) error { return nil }

func newTestDaemon(t *testing.T, cfg PublisherConfig) (*Daemon, *fakePull, *fakeFanout) {
	t.Helper()
	pull := &fakePull{}
	pub := &fakeFanout{}
	d, err := NewDaemon(cfg, pull, pub)
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	return d, pull, pub
}

func TestNewDaemonBindsBothSockets(t *testing.T) {
	cfg := PublisherConfig{
		PullEndpoint: wireconfig.Endpoint{Path: "/tmp/pull.ipc"},
		PubEndpoint:  wireconfig.Endpoint{Path: "/tmp/pub.ipc"},
		HWM:          500,
		Backlog:      200,
	}
	d, pull, pub := newTestDaemon(t, cfg)
	if pull.bound != "ipc:///tmp/pull.ipc" {
		t.Errorf("pull bound = %q", pull.bound)
	}
	if pub.bound != "ipc:///tmp/pub.ipc" {
		t.Errorf("pub bound = %q", pub.bound)
	}
	if pub.sndhwm != 500 || pub.rcvhwm != 500 {
		t.Errorf("hwm = %d/%d, want 500/500", pub.sndhwm, pub.rcvhwm)
	}
	if pub.backlog != 200 {
		t.Errorf("backlog = %d, want 200", pub.backlog)
	}
	select {
	case <-d.Started():
	default:
		t.Error("expected Started() to be closed once bound")
	}
}

func TestPublishPayloadUnfilteredSendsSingleFrame(t *testing.T) {
	d, _, pub := newTestDaemon(t, PublisherConfig{
		PullEndpoint: wireconfig.Endpoint{Path: "/tmp/a.ipc"},
		PubEndpoint:  wireconfig.Endpoint{Path: "/tmp/b.ipc"},
		Filtering:    false,
	})
	if err := d.publishPayload([]byte("cmd"), nil); err != nil {
		t.Fatalf("publishPayload: %v", err)
	}
	if len(pub.sent) != 1 || len(pub.sent[0]) != 1 {
		t.Fatalf("expected single-frame send, got %v", pub.sent)
	}
}

func TestPublishPayloadFilteredNoTopicsBroadcasts(t *testing.T) {
	d, _, pub := newTestDaemon(t, PublisherConfig{
		PullEndpoint: wireconfig.Endpoint{Path: "/tmp/a.ipc"},
		PubEndpoint:  wireconfig.Endpoint{Path: "/tmp/b.ipc"},
		Filtering:    true,
	})
	if err := d.publishPayload([]byte("cmd"), nil); err != nil {
		t.Fatalf("publishPayload: %v", err)
	}
	if len(pub.sent) != 1 || string(pub.sent[0][0].([]byte)) != "broadcast" {
		t.Fatalf("expected broadcast frame, got %v", pub.sent)
	}
}

func TestPublishPayloadFilteredWithTopicsHashesEach(t *testing.T) {
	d, _, pub := newTestDaemon(t, PublisherConfig{
		PullEndpoint: wireconfig.Endpoint{Path: "/tmp/a.ipc"},
		PubEndpoint:  wireconfig.Endpoint{Path: "/tmp/b.ipc"},
		Filtering:    true,
	})
	if err := d.publishPayload([]byte("cmd"), []string{"m1"}); err != nil {
		t.Fatalf("publishPayload: %v", err)
	}
	if len(pub.sent) != 1 || pub.sent[0][0].(string) != TopicHash("m1") {
		t.Fatalf("expected hashed topic frame, got %v", pub.sent)
	}
}

func TestPublishPayloadOrderMastersAddsSyndicFrame(t *testing.T) {
	d, _, pub := newTestDaemon(t, PublisherConfig{
		PullEndpoint: wireconfig.Endpoint{Path: "/tmp/a.ipc"},
		PubEndpoint:  wireconfig.Endpoint{Path: "/tmp/b.ipc"},
		Filtering:    true,
		OrderMasters: true,
	})
	if err := d.publishPayload([]byte("cmd"), []string{"m1"}); err != nil {
		t.Fatalf("publishPayload: %v", err)
	}
	if len(pub.sent) != 2 {
		t.Fatalf("expected topic frame + syndic frame, got %d sends", len(pub.sent))
	}
	if string(pub.sent[1][0].([]byte)) != "syndic" {
		t.Errorf("second send = %v, want syndic frame", pub.sent[1])
	}
}

func TestDaemonCloseClosesBothSockets(t *testing.T) {
	d, pull, pub := newTestDaemon(t, PublisherConfig{
		PullEndpoint: wireconfig.Endpoint{Path: "/tmp/a.ipc"},
		PubEndpoint:  wireconfig.Endpoint{Path: "/tmp/b.ipc"},
	})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pull.closed || !pub.closed {
		t.Error("expected both sockets closed")
	}
}
