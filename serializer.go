package realtime

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Serializer converts envelopes to and from wire frames.
type Serializer interface {
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// JSONSerializer implements the one-object-per-frame JSON protocol.
type JSONSerializer struct{}

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

func (s *JSONSerializer) Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, errors.Wrap(ErrMalformedEnvelope, "missing type")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode envelope")
	}
	return data, nil
}

// Decode parses a frame. Frames that are not a JSON object or carry no type tag are rejected
// with ErrMalformedEnvelope; unknown type tags are accepted and left for the router to drop.
func (s *JSONSerializer) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if env.Type == "" {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, "missing type")
	}
	return env, nil
}
