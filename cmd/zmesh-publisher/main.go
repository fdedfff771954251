// Command zmesh-publisher is the forked subprocess that runs the publish
// channel's daemon half: it pulls opaque payloads from its ingress socket
// and fans them out, with optional topic framing, to every connected
// subscriber. public/master does not spawn this binary: its
// StartPublisher runs the same daemon in-process on a goroutine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pebbe/zmq4"
	"github.com/spf13/cobra"

	"github.com/tenzoki/zmesh/internal/pubsub"
	"github.com/tenzoki/zmesh/internal/wireconfig"
	"github.com/tenzoki/zmesh/internal/wirelog"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zmesh-publisher: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zmesh-publisher",
	Short: "Runs the publish channel's pull-to-fanout daemon",
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

	pull, err := zctx.NewSocket(zmq4.PULL)
	if err != nil {
		return fmt.Errorf("create pull socket: %w", err)
	}
	pub, err := zctx.NewSocket(zmq4.PUB)
	if err != nil {
		return fmt.Errorf("create pub socket: %w", err)
	}

	daemon, err := pubsub.NewDaemon(pubsub.PublisherConfig{
		PullEndpoint: cfg.PublishPullEndpoint(),
		PubEndpoint:  cfg.PublishEndpoint(),
		Filtering:    cfg.ZmqFiltering,
		OrderMasters: cfg.OrderMasters,
		HWM:          cfg.PubHWM,
		Backlog:      cfg.ZmqBacklog,
		IPv6:         cfg.IPv6,
		MonitorName:  "publisher",
	}, pull, pub)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	log := wirelog.For("zmesh-publisher")
	if cfg.ZmqMonitor {
		if err := daemon.AttachMonitor(zctx, pub); err != nil {
			log.Warn().Err(err).Msg("failed to attach publisher monitor")
		}
	}

	<-daemon.Started()
	log.Info().Msg("publisher daemon bound, running forwarding loop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() { errCh <- daemon.Run(ctx) }()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("publisher shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			cancel()
			return fmt.Errorf("publisher daemon: %w", err)
		}
	}
	return daemon.Close()
}
