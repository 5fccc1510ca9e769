package contracts

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/glimte/voicebus/internal/codec"
)

// DecodePayload converts the envelope payload into dst, which must be a
// non-nil pointer. Raw JSON is unmarshalled, values of a matching type are
// assigned directly and anything else is converted through JSON.
func DecodePayload(env *Envelope, dst any) error {
	if env == nil {
		return fmt.Errorf("decode payload: nil envelope")
	}
	if err := decodeValue(env.Payload, dst); err != nil {
		return fmt.Errorf("decode payload of %s: %w", env.Type, err)
	}
	return nil
}

func decodeValue(src, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dst)
	}

	switch raw := src.(type) {
	case json.RawMessage:
		return unmarshal(raw, dst)
	case []byte:
		return unmarshal(raw, dst)
	}

	target := rv.Elem()
	if src != nil {
		sv := reflect.ValueOf(src)
		if sv.Type().AssignableTo(target.Type()) {
			target.Set(sv)
			return nil
		}
		if sv.Kind() == reflect.Ptr && !sv.IsNil() && sv.Elem().Type().AssignableTo(target.Type()) {
			target.Set(sv.Elem())
			return nil
		}
	}

	data, err := codec.Marshal(src)
	if err != nil {
		return err
	}
	return unmarshal(data, dst)
}

func unmarshal(data []byte, dst any) error {
	return codec.Unmarshal(data, dst)
}

// wireEnvelope keeps the payload undecoded so receivers choose its type.
type wireEnvelope struct {
	Envelope
	Payload json.RawMessage `json:"payload"`
}

// MarshalEnvelope encodes an envelope for a transport that crosses a process boundary
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	return codec.Marshal(env)
}

// UnmarshalEnvelope decodes an envelope, leaving its payload as json.RawMessage
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := codec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	env := w.Envelope
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		env.Payload = w.Payload
	} else {
		env.Payload = nil
	}
	return &env, nil
}
