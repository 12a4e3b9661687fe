package realtime

type (
	// ViewOption configures a session view.
	ViewOption func(*viewConfig)

	viewConfig struct {
		onChange func()
	}
)

// WithOnChange registers a callback fired after every change to the view. It runs on the
// dispatcher's event loop and must not block.
func WithOnChange(fn func()) ViewOption {
	return func(c *viewConfig) {
		c.onChange = fn
	}
}

func newViewConfig(opts []ViewOption) viewConfig {
	var c viewConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c viewConfig) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// senderOf returns the user a payload refers to, falling back to the envelope author.
func senderOf(payloadUser string, env Envelope) string {
	if payloadUser != "" {
		return payloadUser
	}
	return env.UserID
}
