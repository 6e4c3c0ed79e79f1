package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/arlimus/compressd/internal/server"
	"github.com/arlimus/compressd/internal/stats"
)

const defaultListenAddr = "127.0.0.1:4000"

var rootArgs struct {
	listen          string
	shutdownTimeout time.Duration
	sendBufferSize  int
	logLevel        string
}

var rootCmd = &cobra.Command{
	Use:   "compressd",
	Short: "A TCP service that pings, compresses, and reports transfer stats",
	RunE:  run,
}

func init() {
	setupFlags(rootCmd.Flags())
}

func setupFlags(f *pflag.FlagSet) {
	defaultListen := os.Getenv("COMPRESSD_LISTEN")
	if defaultListen == "" {
		defaultListen = defaultListenAddr
	}

	f.StringVar(&rootArgs.listen, "listen", defaultListen, "address to listen on (env COMPRESSD_LISTEN)")
	f.DurationVar(&rootArgs.shutdownTimeout, "shutdown-timeout", 0, "time to wait for in-flight connections to finish before a forced shutdown")
	f.IntVar(&rootArgs.sendBufferSize, "send-buffer", 8, "per-connection outbound response buffer size")
	f.StringVar(&rootArgs.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := parseLogLevel(rootArgs.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	addr, err := net.ResolveTCPAddr("tcp", rootArgs.listen)
	if err != nil {
		return fmt.Errorf("resolve listen address %q: %w", rootArgs.listen, err)
	}

	st := stats.New()
	srv, err := server.New(addr, st,
		server.WithLogger(logger),
		server.WithShutdownTimeout(rootArgs.shutdownTimeout),
		server.WithSendBufferSize(rootArgs.sendBufferSize),
	)
	if err != nil {
		return fmt.Errorf("bind listener on %s: %w", addr, err)
	}

	printBanner(srv.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	return srv.Serve(ctx)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func printBanner(addr string) {
	bold := color.New(color.Bold, color.FgCyan)
	bold.Fprintln(os.Stderr, "compressd")
	color.New(color.FgGreen).Fprintf(os.Stderr, "listening on %s\n", addr)
}
