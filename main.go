// Phoenix Waterfall - streaming spectral display for SDR I/Q sources
// This program connects to a stream server over TCP, runs the incoming
// I/Q through decimation and FFT analysis, and serves the scrolling
// waterfall as a websocket row feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"phoenix-waterfall/internal/config"
	"phoenix-waterfall/internal/discovery"
	"phoenix-waterfall/internal/pipeline"
	"phoenix-waterfall/internal/protocol"
	"phoenix-waterfall/internal/recorder"
	"phoenix-waterfall/internal/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command line flag variables
var (
	cfgFile     string  // Configuration file path
	host        string  // Stream server host
	port        int     // Stream server port
	width       int     // Canvas width in pixels
	height      int     // Canvas height in pixels
	gainOffset  float64 // Manual display gain offset in dB
	nodeID      string  // Discovery node identifier
	noDiscovery bool    // Disable LAN discovery
	noAuto      bool    // Disable auto-connect to discovered servers
	record      bool    // Record display-rate I/Q while streaming
	feedListen  string  // Row feed and metrics listen address
	verbose     bool    // Enable verbose logging
	showVersion bool    // Print version information and exit
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "waterfall",
	Short: "Streaming spectral waterfall display for SDR I/Q sources",
	Long: `Phoenix Waterfall connects to an I/Q stream server, decimates the
samples to the display rate, and renders a scrolling spectral waterfall
served as a websocket row feed.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("waterfall"))
			return
		}
		if err := runWaterfall(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./waterfall.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Command-specific flags
	rootCmd.Flags().StringVar(&host, "host", "localhost", "stream server host")
	rootCmd.Flags().IntVarP(&port, "port", "p", 4536, "stream server port")
	rootCmd.Flags().IntVar(&width, "width", 1024, "waterfall width in pixels")
	rootCmd.Flags().IntVar(&height, "height", 600, "waterfall height in pixels")
	rootCmd.Flags().Float64VarP(&gainOffset, "gain", "g", 0.0, "display gain offset (dB)")
	rootCmd.Flags().StringVar(&nodeID, "node-id", "", "discovery node identifier (default: hostname)")
	rootCmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "disable LAN discovery")
	rootCmd.Flags().BoolVar(&noAuto, "no-auto", false, "disable auto-connect to discovered servers")
	rootCmd.Flags().BoolVarP(&record, "record", "r", false, "record display-rate I/Q while streaming")
	rootCmd.Flags().StringVar(&feedListen, "feed-listen", ":8090", "row feed and metrics listen address")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("display.width", rootCmd.Flags().Lookup("width"))
	viper.BindPFlag("display.height", rootCmd.Flags().Lookup("height"))
	viper.BindPFlag("display.gain_offset_db", rootCmd.Flags().Lookup("gain"))
	viper.BindPFlag("recording.enabled", rootCmd.Flags().Lookup("record"))
	viper.BindPFlag("feed.listen", rootCmd.Flags().Lookup("feed-listen"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("waterfall")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runWaterfall is the main application logic
func runWaterfall() error {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if nodeID != "" {
		cfg.Discovery.NodeID = nodeID
	}
	if noDiscovery {
		cfg.Discovery.Enabled = false
	}
	if noAuto {
		cfg.Discovery.AutoConnect = false
	}

	fmt.Printf("Phoenix Waterfall %s starting...\n", version.GetFullVersion())
	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Canvas: %dx%d\n", cfg.Display.Width, cfg.Display.Height)
	if cfg.Feed.Enabled {
		fmt.Printf("Feed: ws://%s/feed (metrics at /metrics)\n", cfg.Feed.Listen)
	}

	p := pipeline.New(pipeline.Config{
		Width:        cfg.Display.Width,
		Height:       cfg.Display.Height,
		GainOffsetDB: cfg.Display.GainOffsetDB,
		Session: protocol.SessionConfig{
			ConnectTimeout: cfg.Server.ConnectTimeout,
			RetryInterval:  cfg.Server.RetryInterval,
		},
	})

	reg := prometheus.NewRegistry()
	p.SetMetrics(pipeline.NewMetrics(reg))

	var feed *pipeline.Feed
	if cfg.Feed.Enabled {
		feed = pipeline.NewFeed(cfg.Feed.Listen, reg)
		p.SetFeed(feed)
		feed.Start()
		defer feed.Close()
	}

	if cfg.Recording.Enabled {
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create capture directory: %w", err)
		}
		name := fmt.Sprintf("%s_%s.iq", cfg.Recording.FilePrefix, time.Now().Format("20060102_150405"))
		w, err := recorder.NewWriter(filepath.Join(cfg.Recording.OutputDir, name), recorder.Metadata{
			SampleRate: 12000,
			StartTime:  time.Now(),
			SourceInfo: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		})
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		p.SetRecorder(w)
		fmt.Printf("Recording to %s\n", name)
	}

	// The configured server is the initial target; discovery may replace it.
	p.SetTarget(cfg.Server.Host, cfg.Server.Port)

	if cfg.Discovery.Enabled {
		cb := func(ep discovery.Endpoint, departed bool) {
			if departed || ep.Service != discovery.ServiceSDRServer {
				return
			}
			fmt.Printf("Discovered stream server %s at %s:%d\n", ep.ID, ep.IP, ep.Port)
			if cfg.Discovery.AutoConnect {
				p.SetTarget(ep.IP, ep.Port)
			}
		}
		d, err := discovery.New(cfg.Discovery.NodeID, discovery.ServiceWaterfall, 0, cb)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: discovery unavailable: %v\n", err)
		} else {
			defer d.Stop()
		}
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\nReceived interrupt signal, shutting down...\n")
		cancel()
	}()

	if verbose {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					connected, rate := p.Status()
					fmt.Printf("Status: connected=%v rate=%d Hz\n", connected, rate)
				}
			}
		}()
	}

	err := p.Run(ctx)

	// Persist display settings so geometry and gain survive restarts.
	cfg.Display.GainOffsetDB = p.GainOffset()
	if saveErr := cfg.Save(cfgFile); saveErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save config: %v\n", saveErr)
	}

	if err == context.Canceled {
		return nil
	}
	return err
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
