package realtime

import (
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// QueueDropPolicy decides which envelope is discarded when a bounded outbound queue is full.
type QueueDropPolicy string

const (
	DropOldest QueueDropPolicy = "drop_oldest"
	DropNewest QueueDropPolicy = "drop_newest"
)

const (
	defaultReconnectInterval    = 3 * time.Second
	defaultMaxReconnectDelay    = 30 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultHeartbeatInterval    = 30 * time.Second
	defaultTypingTimeout        = 3 * time.Second
	defaultHandshakeTimeout     = 10 * time.Second
)

// Config holds the recognised dispatcher options.
type Config struct {
	// URL is the authenticated websocket endpoint.
	URL string `mapstructure:"url"`

	// UserID identifies the local user in join, leave and typing envelopes.
	UserID string `mapstructure:"user_id"`

	// ReconnectInterval is the base unit of the exponential backoff.
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`

	// MaxReconnectDelay caps a single backoff delay.
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`

	// MaxReconnectAttempts is the number of automatic retries before giving up.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`

	// ReconnectJitter spreads each delay by up to this fraction, in [0, 1). Zero disables it.
	ReconnectJitter float64 `mapstructure:"reconnect_jitter"`

	// HeartbeatInterval is the period between outgoing heartbeat envelopes.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// HeartbeatTimeout force-closes a connection that has been silent for this long.
	// Zero disables the watchdog and leaves failure detection to the socket close.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// TypingTimeout is how long a local "typing" indicator lives without a refresh.
	TypingTimeout time.Duration `mapstructure:"typing_timeout"`

	// MaxQueueSize bounds the outbound queue. Zero means unbounded.
	MaxQueueSize int `mapstructure:"max_queue_size"`

	// QueueDropPolicy applies when MaxQueueSize is reached.
	QueueDropPolicy QueueDropPolicy `mapstructure:"queue_drop_policy"`

	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    defaultReconnectInterval,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		HeartbeatInterval:    defaultHeartbeatInterval,
		TypingTimeout:        defaultTypingTimeout,
		QueueDropPolicy:      DropOldest,
		WriteTimeout:         defaultWriteTimeout,
		HandshakeTimeout:     defaultHandshakeTimeout,
	}
}

func (c Config) Validate() error {
	switch {
	case c.URL == "":
		return errors.Wrap(ErrInvalidConfig, "url is required")
	case c.ReconnectInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "reconnect_interval must be positive")
	case c.MaxReconnectDelay < c.ReconnectInterval:
		return errors.Wrap(ErrInvalidConfig, "max_reconnect_delay must not be below reconnect_interval")
	case c.MaxReconnectAttempts < 0:
		return errors.Wrap(ErrInvalidConfig, "max_reconnect_attempts must not be negative")
	case c.ReconnectJitter < 0 || c.ReconnectJitter >= 1:
		return errors.Wrap(ErrInvalidConfig, "reconnect_jitter must be in [0, 1)")
	case c.HeartbeatInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "heartbeat_interval must be positive")
	case c.HeartbeatTimeout < 0:
		return errors.Wrap(ErrInvalidConfig, "heartbeat_timeout must not be negative")
	case c.TypingTimeout <= 0:
		return errors.Wrap(ErrInvalidConfig, "typing_timeout must be positive")
	case c.MaxQueueSize < 0:
		return errors.Wrap(ErrInvalidConfig, "max_queue_size must not be negative")
	}

	switch c.QueueDropPolicy {
	case DropOldest, DropNewest:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown queue_drop_policy %q", c.QueueDropPolicy)
	}
	return nil
}

// LoadConfigFromEnv overlays DefaultConfig with PREFIX_* environment variables, e.g.
// CARPOOL_WS_URL or CARPOOL_WS_HEARTBEAT_INTERVAL=15s.
func LoadConfigFromEnv(prefix string) (Config, error) {
	return decodeConfig(DefaultConfig(), envMap(prefix, os.Environ()))
}

func envMap(prefix string, environ []string) map[string]any {
	prefix = strings.ToUpper(strings.TrimSuffix(prefix, "_")) + "_"

	values := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}
	return values
}

func decodeConfig(base Config, values map[string]any) (Config, error) {
	cfg := base
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "cannot build config decoder")
	}
	if err := decoder.Decode(values); err != nil {
		return Config{}, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return cfg, nil
}
