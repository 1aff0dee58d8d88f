package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/floodnet/admin"
	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/logger"
	"github.com/adamgarcia4/goLearning/floodnet/node"
)

var (
	configPath    string
	peerID        string
	listen        string
	neighbors     []string
	transportName string
	floodTimeout  time.Duration
	workers       int
	adminAddr     string
	strict        bool
	noConsole     bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a flood peer",
	Long: `Start one flood peer and read commands from stdin.

Examples:
  # Start a peer with two neighbors
  floodnet start --listen=127.0.0.1:50051 --peers=127.0.0.1:50052,127.0.0.1:50053

  # Start from a YAML config, or the legacy peer-config.config format
  floodnet start --config=peer.yaml
  floodnet start --config=peer-config.config

  # Use QUIC and expose the admin API
  floodnet start --listen=127.0.0.1:50051 --peers=127.0.0.1:50052 --transport=quic --admin=127.0.0.1:8080

Type /help at the prompt for the console commands.`,
	Run: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file, or a legacy .config file")
	startCmd.Flags().StringVar(&peerID, "id", "", "Peer ID advertised to neighbors (defaults to --listen)")
	startCmd.Flags().StringVarP(&listen, "listen", "l", node.DefaultHost+":"+node.DefaultPort, "Address to bind the transport to")
	startCmd.Flags().StringSliceVarP(&neighbors, "peers", "p", []string{}, "Neighbor peer addresses (comma-separated)")
	startCmd.Flags().StringVarP(&transportName, "transport", "t", node.DefaultTransport, "Transport: grpc or quic")
	startCmd.Flags().DurationVar(&floodTimeout, "timeout", node.DefaultFloodTimeout, "How long a flood waits for its callbacks")
	startCmd.Flags().IntVarP(&workers, "workers", "w", node.DefaultWorkers, "Concurrent inbound floods before forwards are shed")
	startCmd.Flags().StringVar(&adminAddr, "admin", "", "Serve the HTTP admin API on this address")
	startCmd.Flags().BoolVar(&strict, "strict", false, "Also require inbound links to come from a neighbor's host")
	startCmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read commands from stdin")
}

// buildConfig loads --config when given, then applies every flag the user set.
func buildConfig(cmd *cobra.Command) (*node.Config, error) {
	config := node.DefaultConfig("")
	if configPath != "" {
		loaded, err := node.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	flags := cmd.Flags()
	if configPath == "" || flags.Changed("listen") {
		config.Listen = listen
	}
	if flags.Changed("id") {
		config.PeerID = flood.PeerID(peerID)
	}
	if config.PeerID == "" {
		config.PeerID = flood.PeerID(config.GetAddress())
	}
	if configPath == "" || flags.Changed("peers") {
		config.Neighbors = make([]flood.PeerID, 0, len(neighbors))
		for _, p := range neighbors {
			if p = strings.TrimSpace(p); p != "" {
				config.Neighbors = append(config.Neighbors, flood.PeerID(p))
			}
		}
	}
	if configPath == "" || flags.Changed("transport") {
		config.Transport = transportName
	}
	if configPath == "" || flags.Changed("timeout") {
		config.FloodTimeout = floodTimeout
	}
	if configPath == "" || flags.Changed("workers") {
		config.Workers = workers
	}
	if flags.Changed("admin") {
		config.AdminAddr = adminAddr
	}
	if flags.Changed("strict") {
		config.StrictAdmission = strict
	}

	if config.Transport == node.TransportMemory {
		return nil, fmt.Errorf("the memory transport only exists inside one process; use the interactive command")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func runStart(cmd *cobra.Command, args []string) {
	if err := initLogger(true); err != nil {
		log.Fatalf("invalid log level: %v", err)
	}

	config, err := buildConfig(cmd)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	n, err := node.New(config)
	if err != nil {
		log.Fatalf("failed to create peer: %v", err)
	}
	if err := n.Start(); err != nil {
		log.Fatalf("failed to start peer: %v", err)
	}

	var srv *admin.Server
	if config.AdminAddr != "" {
		srv = admin.NewServer(n, config.AdminAddr)
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start admin API: %v", err)
		}
	}

	// Wait for an interrupt signal, or /exit on the console
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !noConsole {
		go func() {
			defer stop()
			if err := newConsole(n, os.Stdout).run(ctx, os.Stdin); err != nil {
				logger.Errorf("console: %v", err)
			}
		}()
	}
	<-ctx.Done()

	logger.Info("Shutting down...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Errorf("Error stopping admin API: %v", err)
		}
		cancel()
	}
	if err := n.Stop(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}
