// Package serialization translates event envelopes to and from their wire
// format. Every envelope travels as a protobuf-encoded structpb.Struct so
// that remote buses need no generated message types.
package serialization

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/compliance-armada/internal/domain/events"
)

// ErrUnknownEventType is returned when no codec is registered for an event type.
var ErrUnknownEventType = errors.New("no codec registered for event type")

// EncodeFunc converts a domain payload into a structpb.Struct.
type EncodeFunc func(payload any) (*structpb.Struct, error)

// DecodeFunc converts a structpb.Struct back into a domain payload.
type DecodeFunc func(s *structpb.Struct) (any, error)

type codec struct {
	encode EncodeFunc
	decode DecodeFunc
}

var (
	mu       sync.RWMutex
	registry = map[events.EventType]codec{}
)

// Register installs the codec for an event type, replacing any previous one.
func Register(eventType events.EventType, enc EncodeFunc, dec DecodeFunc) {
	mu.Lock()
	defer mu.Unlock()
	registry[eventType] = codec{encode: enc, decode: dec}
}

// Registered reports whether a codec exists for the event type.
func Registered(eventType events.EventType) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[eventType]
	return ok
}

func lookup(eventType events.EventType) (codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[eventType]
	if !ok {
		return codec{}, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return c, nil
}

// EncodePayload converts a payload using the codec registered for its type.
func EncodePayload(eventType events.EventType, payload any) (*structpb.Struct, error) {
	c, err := lookup(eventType)
	if err != nil {
		return nil, err
	}
	return c.encode(payload)
}

// DecodePayload converts a structpb.Struct using the codec registered for eventType.
func DecodePayload(eventType events.EventType, s *structpb.Struct) (any, error) {
	c, err := lookup(eventType)
	if err != nil {
		return nil, err
	}
	return c.decode(s)
}

func init() { registerScanEvents() }
