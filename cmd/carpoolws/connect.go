package main

import (
	"os"
	"time"

	"github.com/carpoolkit/realtime"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// connectFlags are shared by every command that opens a connection. Flags win over the
// environment, which wins over the defaults.
type connectFlags struct {
	url     string
	token   string
	user    string
	verbose bool
}

func (f *connectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "websocket endpoint (env CARPOOL_WS_URL)")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv(envPrefix+"_TOKEN"), "bearer token for the handshake (env CARPOOL_WS_TOKEN)")
	cmd.Flags().StringVar(&f.user, "user", "", "local user id (env CARPOOL_WS_USER_ID)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log frames and heartbeats")
}

func (f *connectFlags) config() (realtime.Config, error) {
	cfg, err := realtime.LoadConfigFromEnv(envPrefix)
	if err != nil {
		return realtime.Config{}, err
	}
	if f.url != "" {
		cfg.URL = f.url
	}
	if f.user != "" {
		cfg.UserID = f.user
	}
	return cfg, cfg.Validate()
}

func (f *connectFlags) logger() *zap.Logger {
	return realtime.NewConsoleZapLogger(os.Stderr, f.verbose)
}

func (f *connectFlags) dispatcher(logger *zap.Logger, opts ...realtime.Option) (*realtime.Dispatcher, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}

	base := []realtime.Option{realtime.WithLogger(realtime.NewZapLogger(logger))}
	if f.token != "" {
		base = append(base, realtime.WithTokenSource(realtime.StaticToken(f.token)))
	}

	d, err := realtime.New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build dispatcher")
	}
	return d, nil
}

// shutdown disconnects and waits until the dispatcher reports closed, so the close frame is out
// before the process exits.
func shutdown(d *realtime.Dispatcher, wait time.Duration) {
	d.Disconnect()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		switch d.State() {
		case realtime.StateClosed, realtime.StateIdle:
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
