// Package keepalive applies TCP keepalive socket options to ZeroMQ sockets
// that ride over TCP. Missing configuration keys leave the libzmq default
// in place; an older binding that lacks the keepalive sockopts is a silent
// no-op rather than an error.
package keepalive

import "github.com/pebbe/zmq4"

// Policy holds the keepalive knobs the spec's configuration surface
// exposes (tcp_keepalive, tcp_keepalive_idle, tcp_keepalive_cnt,
// tcp_keepalive_intvl). A nil field leaves the corresponding sockopt
// untouched.
type Policy struct {
	Enabled  *bool
	Idle     *int
	Count    *int
	Interval *int
}

// socket is the subset of *zmq4.Socket this package depends on, so tests
// can supply a fake.
type socket interface {
	SetTcpKeepalive(int) error
	SetTcpKeepaliveIdle(int) error
	SetTcpKeepaliveCnt(int) error
	SetTcpKeepaliveIntvl(int) error
}

var _ socket = (*zmq4.Socket)(nil)

// Apply sets whichever keepalive options Policy specifies. Socket option
// failures are treated as "this binding doesn't support it" and ignored,
// mirroring the original's `hasattr(zmq, "TCP_KEEPALIVE")` feature check.
func Apply(sock socket, p Policy) {
	if p.Enabled != nil {
		v := 0
		if *p.Enabled {
			v = 1
		}
		_ = sock.SetTcpKeepalive(v)
	}
	if p.Idle != nil {
		_ = sock.SetTcpKeepaliveIdle(*p.Idle)
	}
	if p.Count != nil {
		_ = sock.SetTcpKeepaliveCnt(*p.Count)
	}
	if p.Interval != nil {
		_ = sock.SetTcpKeepaliveIntvl(*p.Interval)
	}
}
