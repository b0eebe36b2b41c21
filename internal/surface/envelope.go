// Package surface manages rendering-surface instances and the message
// protocol between the core and each surface.
//
// A surface is an isolated renderer for one document in one mode. The core
// never reaches into a surface; all state crosses the boundary as typed
// Envelopes, either fire-and-forget or as correlated request/reply pairs.
package surface

import (
	"encoding/json"
	"fmt"

	"github.com/vellumedit/vellum/internal/document"
	"github.com/vellumedit/vellum/internal/view"
)

// Type tags an envelope's payload.
type Type string

// Envelope types.
const (
	// TypeSurfaceReady signals surface initialization complete (surface to
	// core, empty payload).
	TypeSurfaceReady Type = "surface-ready"

	// TypeContentChanged carries document text. Surfaces emit it on user
	// edits; the core pushes it to non-originating surfaces.
	TypeContentChanged Type = "content-changed"

	// TypeModeSwitch instructs a surface to adopt a mode and restore a
	// preserved view. Expects an acknowledging reply.
	TypeModeSwitch Type = "mode-switch"

	// TypeSaveRequest asks the core to save the surface's document.
	TypeSaveRequest Type = "save-request"

	// TypeExecuteCommand asks the core to run a named command.
	TypeExecuteCommand Type = "execute-command"

	// TypeConfigUpdate pushes changed options to a surface.
	TypeConfigUpdate Type = "config-update"

	// TypeError reports a failure in either direction.
	TypeError Type = "error"
)

// Envelope is the wire unit exchanged with a surface.
type Envelope struct {
	Type Type `json:"type"`

	// Payload is tag-specific structured data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CorrelationID is set when the envelope expects, or is, a matched
	// reply.
	CorrelationID string `json:"correlationId,omitempty"`
}

// ContentChangedPayload is the payload for TypeContentChanged.
type ContentChangedPayload struct {
	Content string `json:"content"`
}

// ModeSwitchPayload is the payload for TypeModeSwitch.
type ModeSwitchPayload struct {
	Mode          view.Mode          `json:"mode"`
	PreservedView document.ViewState `json:"preservedView"`
}

// ExecuteCommandPayload is the payload for TypeExecuteCommand.
type ExecuteCommandPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ConfigUpdatePayload is the payload for TypeConfigUpdate.
type ConfigUpdatePayload struct {
	Options map[string]any `json:"options"`
}

// ErrorPayload is the payload for TypeError.
type ErrorPayload struct {
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// NewEnvelope builds an envelope, marshaling the payload. A nil payload
// produces an empty-payload envelope.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(t Type, payload any) Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodePayload unmarshals the envelope payload into out, reporting
// malformed payloads as ErrMalformedPayload.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedPayload, e.Type)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.Type, err)
	}
	return nil
}

// Reply builds the acknowledging reply for a correlated request.
func (e Envelope) Reply(payload any) (Envelope, error) {
	reply, err := NewEnvelope(e.Type, payload)
	if err != nil {
		return Envelope{}, err
	}
	reply.CorrelationID = e.CorrelationID
	return reply, nil
}
