// Package codec encodes and decodes the on-the-wire workflow envelope
// (§3/§6): a compact JSON message carrying only the node states that
// differ from their defaults.
package codec

import (
	"encoding/json"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

// Envelope is the canonical wire message: `{n,v,s,p}`.
type Envelope struct {
	Name     string                   `json:"n"`
	Version  string                   `json:"v"`
	States   map[string]*engine.State `json:"s,omitempty"`
	Position string                   `json:"p,omitempty"`
}

// Encode projects a running Instance into its minimal Envelope: only
// non-default states are included, as required by §3's state-minimality
// invariant.
func Encode(name, version string, inst *engine.Instance) *Envelope {
	var position string
	if inst.Current != nil {
		position = inst.Current.Position
	}
	return &Envelope{
		Name:     name,
		Version:  version,
		States:   inst.NonDefaultStates(),
		Position: position,
	}
}

// Marshal serializes an Envelope to its canonical compact JSON form.
func Marshal(e *Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, dsl.New(dsl.KindRuntime, e.Position, "failed to encode envelope").Wrap(err)
	}
	return b, nil
}

// Unmarshal decodes raw bytes into an Envelope. Decode failures are the
// trigger for the Consumer's (C8 step 1) failed-row policy.
func Unmarshal(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, dsl.New(dsl.KindConfiguration, "/", "failed to decode envelope").Wrap(err)
	}
	if e.States == nil {
		e.States = make(map[string]*engine.State)
	}
	return &e, nil
}
