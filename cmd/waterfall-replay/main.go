// Waterfall Replay - serve a recorded I/Q capture as a display-rate stream
// This program reads a capture file written by the waterfall display and
// replays it over TCP so the capture can be viewed again or inspected.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"phoenix-waterfall/internal/recorder"
	"phoenix-waterfall/internal/source"
	"phoenix-waterfall/internal/version"

	"github.com/spf13/cobra"
)

var (
	listenPort  int
	showInfo    bool
	loop        bool
	showVersion bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "waterfall-replay [file.iq]",
	Short: "Replay recorded I/Q captures to waterfall displays",
	Long: `Waterfall Replay serves a recorded display-rate I/Q capture over TCP
so a waterfall display can connect to it exactly like a live stream server.

Use --info to print the capture header without serving.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("waterfall-replay"))
			return
		}
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: capture filename required\n")
			cmd.Usage()
			os.Exit(1)
		}
		if err := runReplay(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().IntVarP(&listenPort, "port", "p", 4536, "TCP listen port")
	rootCmd.Flags().BoolVarP(&showInfo, "info", "i", false, "print capture metadata and exit")
	rootCmd.Flags().BoolVarP(&loop, "loop", "l", false, "restart the capture when it ends")
}

// printInfo displays the capture header.
func printInfo(filename string) error {
	meta, count, err := recorder.ReadMetadata(filename)
	if err != nil {
		return err
	}

	fmt.Printf("Capture: %s\n", filepath.Base(filename))
	fmt.Printf("Format version: %d\n", meta.FileFormatVersion)
	fmt.Printf("Sample rate: %d Hz\n", meta.SampleRate)
	if meta.CenterFreq != 0 {
		fmt.Printf("Center frequency: %d Hz\n", meta.CenterFreq)
	}
	fmt.Printf("Started: %s\n", meta.StartTime.Format("2006-01-02 15:04:05"))
	if meta.SourceInfo != "" {
		fmt.Printf("Source: %s\n", meta.SourceInfo)
	}
	fmt.Printf("Samples: %d (%.1f s)\n", count, float64(count)/float64(meta.SampleRate))
	return nil
}

// runReplay is the main application logic
func runReplay(filename string) error {
	if showInfo {
		return printInfo(filename)
	}

	meta, samples, err := recorder.ReadFile(filename)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d samples at %d Hz from %s\n", len(samples), meta.SampleRate, filepath.Base(filename))

	srv, err := source.Listen(fmt.Sprintf(":%d", listenPort), source.Config{
		SampleRate: meta.SampleRate,
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	fmt.Printf("Serving replay on %s\n", srv.Addr())

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

	stream := source.Replay(samples, meta.SampleRate, true)
	if loop {
		once := stream
		stream = func(ctx context.Context, chunk int, emit func([]complex64) error) error {
			for {
				if err := once(ctx, chunk, emit); err != nil {
					return err
				}
			}
		}
	}

	err = srv.Serve(ctx, stream)
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
