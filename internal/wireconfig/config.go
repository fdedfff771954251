// Package wireconfig is the configuration model every transport component
// reads from: a single flat options bag loaded from YAML, mirroring the
// way the original implementation threads one "opts" dict through every
// client and server. Field names track the configuration keys documented
// in spec.md §6 exactly so operators translating existing config files
// don't have to relearn a new vocabulary.
package wireconfig

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tenzoki/zmesh/internal/wireerr"
)

// Config is the full set of keys consumed anywhere in the transport.
// Individual components only read the subset relevant to them.
type Config struct {
	ID   string `yaml:"id"`
	Role string `yaml:"__role"`

	ZmqFiltering bool `yaml:"zmq_filtering"`
	OrderMasters bool `yaml:"order_masters"`

	TCPKeepalive      *bool `yaml:"tcp_keepalive"`
	TCPKeepaliveIdle  *int  `yaml:"tcp_keepalive_idle"`
	TCPKeepaliveCnt   *int  `yaml:"tcp_keepalive_cnt"`
	TCPKeepaliveIntvl *int  `yaml:"tcp_keepalive_intvl"`

	ReconDefault   int  `yaml:"recon_default"`
	ReconMax       int  `yaml:"recon_max"`
	ReconRandomize bool `yaml:"recon_randomize"`

	IPv6       bool `yaml:"ipv6"`
	ZmqMonitor bool `yaml:"zmq_monitor"`

	IPCMode           string `yaml:"ipc_mode"`
	TCPMasterWorkers  int    `yaml:"tcp_master_workers"`
	SockDir           string `yaml:"sock_dir"`
	ZmqBacklog        int    `yaml:"zmq_backlog"`
	PubHWM            int    `yaml:"pub_hwm"`
	MworkerQueueNice  int    `yaml:"mworker_queue_niceness"`
	WorkerThreads     int    `yaml:"worker_threads"`

	Interface string `yaml:"interface"`
	RetPort   int    `yaml:"ret_port"`

	MasterIP          string `yaml:"master_ip"`
	MasterPort        int    `yaml:"master_port"`
	SourceIP          string `yaml:"source_ip"`
	SourcePort        int    `yaml:"source_port"`
	SourceRetPort     int    `yaml:"source_ret_port"`
	SourcePublishPort int    `yaml:"source_publish_port"`
	MasterURI         string `yaml:"master_uri"`

	DetectMode bool `yaml:"detect_mode"`
}

// Load reads and parses a YAML config file, then applies defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in the defaults spec.md §6 documents for keys the
// caller left at their zero value.
func (c *Config) ApplyDefaults() {
	if c.ReconDefault == 0 {
		c.ReconDefault = 1000
	}
	if c.ReconMax == 0 {
		c.ReconMax = 10000
	}
	if c.TCPMasterWorkers == 0 {
		c.TCPMasterWorkers = 4515
	}
	if c.ZmqBacklog == 0 {
		c.ZmqBacklog = 1000
	}
	if c.PubHWM == 0 {
		c.PubHWM = 1000
	}
	if c.WorkerThreads == 0 {
		c.WorkerThreads = 1
	}
}

// Endpoint is a bind/connect target: either a TCP (host, port) pair or a
// local IPC (path, mode) pair. Exactly one variant may be populated.
type Endpoint struct {
	Host string
	Port int

	Path string
	Mode os.FileMode
}

// IsIPC reports whether this endpoint names an IPC path.
func (e Endpoint) IsIPC() bool { return e.Path != "" }

// Validate enforces the "path XOR host+port" rule spec.md §4.4 requires at
// construction time.
func (e Endpoint) Validate() error {
	hasPath := e.Path != ""
	hasHostPort := e.Host != "" && e.Port != 0
	switch {
	case hasPath && hasHostPort:
		return wireerr.NewConfigError("endpoint", "a host and port or a path must be provided, not both")
	case !hasPath && !hasHostPort:
		return wireerr.NewConfigError("endpoint", "a host and port or a path must be provided")
	}
	return nil
}

// WorkersEndpoint resolves Stage A/B's shared dealer_back endpoint: TCP on
// 127.0.0.1:tcp_master_workers when ipc_mode is "tcp", otherwise an IPC
// socket under sock_dir, per spec.md §4.6.
func (c *Config) WorkersEndpoint() Endpoint {
	if c.IPCMode == "tcp" {
		return Endpoint{Host: "127.0.0.1", Port: c.TCPMasterWorkers}
	}
	return Endpoint{Path: c.SockDir + "/workers.ipc", Mode: 0o600}
}

// PublishEndpoint resolves the publish daemon's fan-out bind/connect
// endpoint, the address subscribers connect to.
func (c *Config) PublishEndpoint() Endpoint {
	if c.MasterIP != "" && c.SourcePublishPort != 0 {
		return Endpoint{Host: c.MasterIP, Port: c.SourcePublishPort}
	}
	return Endpoint{Path: c.SockDir + "/publisher.ipc", Mode: 0o600}
}

// PublishPullEndpoint resolves the publish daemon's ingress endpoint, the
// address in-process producers push payloads to.
func (c *Config) PublishPullEndpoint() Endpoint {
	if c.IPCMode == "tcp" {
		return Endpoint{Host: "127.0.0.1", Port: c.SourcePublishPort + 1}
	}
	return Endpoint{Path: c.SockDir + "/publish_pull.ipc", Mode: 0o600}
}
