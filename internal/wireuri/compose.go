// Package wireuri composes the TCP and IPC endpoint URIs used to connect
// and bind the transport's ZeroMQ sockets, including the dual-bind
// "tcp://[src];[dst]" syntax used when a minion wants to originate
// connections from a specific source address.
package wireuri

import (
	"fmt"
	"net"
	"strings"

	"github.com/tenzoki/zmesh/internal/wirelog"
)

// VersionFunc reports the libzmq version linked into the binding, so
// Compose can feature-detect dual-bind support the same way the original
// implementation checks `hasattr`/version tuples.
type VersionFunc func() (major, minor, patch int)

// sourceBindMinVersion is the libzmq release that introduced the
// "tcp://src;dst" connect syntax (http://api.zeromq.org/4-1:zmq-tcp).
var sourceBindMinVersion = [3]int{4, 1, 6}

// SupportsSourceBind reports whether the given libzmq version is new
// enough to accept the dual-endpoint connect syntax.
func SupportsSourceBind(major, minor, patch int) bool {
	got := [3]int{major, minor, patch}
	for i := range got {
		if got[i] != sourceBindMinVersion[i] {
			return got[i] > sourceBindMinVersion[i]
		}
	}
	return true
}

func bracket(host string) string {
	if host == "" {
		return host
	}
	if strings.HasPrefix(host, "[") {
		return host
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func tcpAddr(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", bracket(host), port)
}

func isIPv4(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal address (hostname) — treat as v4 for the
		// "which any-address to bind" decision, matching the original's
		// ipaddress.ip_address() call which only ever sees literals here.
		return true
	}
	return ip.To4() != nil
}

// Compose builds the master connect URI for a minion.
//
// With neither sourceIP nor sourcePort set, it returns "tcp://[destIP]:destPort".
// With either set and a libzmq new enough to support it (per versionFn), it
// returns the dual-bind "tcp://[src]:srcport;[dst]:dstport" form. Given only
// one of the two source components, the missing half defaults to port 0 or
// the address family's "any" address. On an old libzmq, the source
// components are dropped and a three-line warning is logged.
func Compose(destIP string, destPort int, sourceIP string, sourcePort int, versionFn VersionFunc) string {
	dest := tcpAddr(destIP, destPort)
	if sourceIP == "" && sourcePort == 0 {
		return dest
	}

	major, minor, patch := versionFn()
	if !SupportsSourceBind(major, minor, patch) {
		log := wirelog.For("wireuri")
		log.Warn().Msg("Unable to connect to the Master using a specific source IP / port")
		log.Warn().Msg("Consider upgrading to a libzmq >= 4.1.6 binding")
		log.Warn().Msg("Specific source IP / port for connecting to master returner port: configuration ignored")
		return dest
	}

	var src string
	switch {
	case sourceIP != "" && sourcePort != 0:
		src = tcpAddr(sourceIP, sourcePort)
	case sourceIP != "" && sourcePort == 0:
		src = tcpAddr(sourceIP, 0)
	default: // sourcePort != 0 && sourceIP == ""
		anyAddr := "0.0.0.0"
		if !isIPv4(destIP) {
			anyAddr = "[::]"
		}
		src = fmt.Sprintf("tcp://%s:%d", anyAddr, sourcePort)
	}

	// src already carries its own "tcp://" prefix; the combined form has
	// exactly one scheme followed by the two semicolon-joined addresses.
	return fmt.Sprintf("tcp://%s;%s", strings.TrimPrefix(src, "tcp://"), strings.TrimPrefix(dest, "tcp://"))
}

// ComposeIPC builds an IPC endpoint URI from an absolute filesystem path.
func ComposeIPC(path string) string {
	return "ipc://" + path
}
