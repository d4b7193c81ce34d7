// Waterfall Source - I/Q stream server backed by RTL-SDR hardware
// This program captures samples from an RTL-SDR device (or a synthetic
// test tone when built without hardware support) and serves them to
// waterfall displays over TCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"phoenix-waterfall/internal/discovery"
	"phoenix-waterfall/internal/protocol"
	"phoenix-waterfall/internal/rtlsdr"
	"phoenix-waterfall/internal/source"
	"phoenix-waterfall/internal/version"

	"github.com/spf13/cobra"
)

var (
	listenPort    int
	frequency     uint32
	sampleRate    uint32
	gain          float64
	deviceIndex   int
	format        string
	chunkSamples  int
	metadataEvery int
	nodeID        string
	noDiscovery   bool
	showVersion   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "waterfall-source",
	Short: "I/Q stream server for waterfall displays",
	Long: `Waterfall Source tunes an RTL-SDR device and serves its raw I/Q
samples to waterfall displays over TCP. Without the rtlsdr build tag a
synthetic test tone is served instead, which is handy for display testing.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("waterfall-source"))
			return
		}
		if err := runSource(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().IntVarP(&listenPort, "port", "p", 4536, "TCP listen port")
	rootCmd.Flags().Uint32VarP(&frequency, "frequency", "f", 433920000, "center frequency (Hz)")
	rootCmd.Flags().Uint32VarP(&sampleRate, "sample-rate", "s", 2448000, "device sample rate (Hz)")
	rootCmd.Flags().Float64VarP(&gain, "gain", "g", 20.7, "tuner gain (dB)")
	rootCmd.Flags().IntVar(&deviceIndex, "device", 0, "RTL-SDR device index")
	rootCmd.Flags().StringVar(&format, "format", "s16", "payload sample format (s16, f32, u8)")
	rootCmd.Flags().IntVar(&chunkSamples, "chunk", 2048, "I/Q pairs per data frame")
	rootCmd.Flags().IntVar(&metadataEvery, "metadata-every", 0, "send a metadata frame every N data frames (0 = never)")
	rootCmd.Flags().StringVar(&nodeID, "node-id", "", "discovery node identifier (default: hostname)")
	rootCmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "disable LAN discovery announcements")
}

func parseFormat(s string) (protocol.SampleFormat, error) {
	switch s {
	case "s16":
		return protocol.FormatS16, nil
	case "f32":
		return protocol.FormatF32, nil
	case "u8":
		return protocol.FormatU8, nil
	default:
		return 0, fmt.Errorf("unknown sample format %q (want s16, f32 or u8)", s)
	}
}

// runSource is the main application logic
func runSource() error {
	fmtCode, err := parseFormat(format)
	if err != nil {
		return err
	}

	dev, err := rtlsdr.NewDevice(deviceIndex)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	if err := dev.SetSampleRate(sampleRate); err != nil {
		return err
	}
	if err := dev.SetFrequency(frequency); err != nil {
		return err
	}
	if err := dev.SetGain(gain); err != nil {
		return err
	}
	fmt.Printf("Device: %s\n", dev.Info())

	srv, err := source.Listen(fmt.Sprintf(":%d", listenPort), source.Config{
		VariantA:      true,
		SampleRate:    sampleRate,
		Format:        fmtCode,
		CenterFreq:    uint64(frequency),
		GainReduction: int32(gain * 10),
		ChunkSamples:  chunkSamples,
		MetadataEvery: metadataEvery,
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	fmt.Printf("Serving %d Hz %s I/Q on %s\n", sampleRate, fmtCode, srv.Addr())

	if !noDiscovery {
		if nodeID == "" {
			nodeID, _ = os.Hostname()
			if nodeID == "" {
				nodeID = "waterfall-source"
			}
		}
		d, err := discovery.New(nodeID, discovery.ServiceSDRServer, listenPort, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: discovery unavailable: %v\n", err)
		} else {
			defer d.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\nReceived interrupt signal, shutting down...\n")
		cancel()
		srv.Close()
	}()

	err = srv.Serve(ctx, dev.Stream)
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
