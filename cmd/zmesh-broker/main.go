// Command zmesh-broker is the Stage A process spawned by a master: it
// binds the router_front/dealer_back pair and runs the blocking queue
// device for the lifetime of the process. A master process launches this
// binary via procspawn and supervises it; it is never run by hand against
// a different config than the master that spawned it.
package main

import (
	"fmt"
	"os"

	"github.com/pebbe/zmq4"
	"github.com/spf13/cobra"

	"github.com/tenzoki/zmesh/internal/reqrep"
	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zmesh-broker: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zmesh-broker",
	Short: "Runs the request channel's router/dealer queue device",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the transport's YAML config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as newline-delimited JSON")
	cobra.OnInitialize(initLogging)
	rootCmd.MarkPersistentFlagRequired("config")
}

func initLogging() {
	debug, _ := rootCmd.PersistentFlags().GetBool("debug")
	jsonLog, _ := rootCmd.PersistentFlags().GetBool("log-json")
	wirelog.SetDebug(debug)
	if jsonLog {
		wirelog.SetJSON()
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := wireconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zctx, err := zmq4.NewContext()
	if err != nil {
		return fmt.Errorf("create zmq context: %w", err)
	}

	broker, err := reqrep.NewBroker(zctx, brokerConfig(cfg))
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	wirelog.For("zmesh-broker").Info().
		Str("interface", cfg.Interface).
		Int("ret_port", cfg.RetPort).
		Msg("broker bound, running queue device")

	return broker.Run()
}

func brokerConfig(cfg *wireconfig.Config) reqrep.BrokerConfig {
	return reqrep.BrokerConfig{
		Interface:       cfg.Interface,
		RetPort:         cfg.RetPort,
		Backlog:         cfg.ZmqBacklog,
		IPv6:            cfg.IPv6,
		WorkersEndpoint: cfg.WorkersEndpoint(),
		Niceness:        cfg.MworkerQueueNice,
	}
}
