package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/carpoolkit/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func tailCmd() *cobra.Command {
	var (
		flags       connectFlags
		chat        string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print every inbound envelope as one JSON line",
		Long: `Connect and print every inbound envelope to stdout, one JSON object per line.
With --chat the local user joins that channel first. Runs until interrupted;
connection changes are logged to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger()
			defer func() { _ = logger.Sync() }()

			var opts []realtime.Option
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				opts = append(opts, realtime.WithMetrics(realtime.NewMetrics(realtime.WithMetricsRegistry(registry))))
				go serveMetrics(logger, metricsAddr, registry)
			}

			d, err := flags.dispatcher(logger, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printer := &envelopePrinter{serializer: realtime.NewJSONSerializer(), logger: logger}
			for _, t := range realtime.EnvelopeTypes {
				if t.IsHeartbeat() {
					continue
				}
				d.Subscribe(t, printer.print)
			}

			d.OnStateChange(func(ev realtime.StateEvent) {
				fields := []zap.Field{
					zap.Stringer("from", ev.OldState),
					zap.Stringer("to", ev.NewState),
					zap.Int("attempt", ev.Attempt),
				}
				if ev.Error != nil {
					fields = append(fields, zap.Error(ev.Error))
				}
				logger.Info("connection state changed", fields...)
				if ev.NewState == realtime.StateClosed {
					stop()
				}
			})

			if err := d.Connect(ctx); err != nil {
				logger.Warn("first connection attempt failed", zap.Error(err))
			}
			if chat != "" {
				d.JoinChannel(chat)
			}

			<-ctx.Done()
			if chat != "" {
				d.LeaveChannel(chat)
			}
			shutdown(d, time.Second)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&chat, "chat", "", "join this chat or trip channel")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")

	return cmd
}

// envelopePrinter serializes concurrent observers onto stdout.
type envelopePrinter struct {
	mu         sync.Mutex
	serializer realtime.Serializer
	logger     *zap.Logger
}

func (p *envelopePrinter) print(env realtime.Envelope) {
	frame, err := p.serializer.Encode(env)
	if err != nil {
		p.logger.Warn("cannot print envelope", zap.Stringer("envelope", env), zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(os.Stdout, string(frame))
}

func serveMetrics(logger *zap.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

