package transfer

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/artificial-james/tombflow"
)

// Kind names the stream half an envelope rebuilds.
type Kind string

const (
	KindReadable Kind = "readable"
	KindWritable Kind = "writable"
)

// Envelope describes a transferred stream: which channel carries it, its
// kind and the state it had when it was transferred.
type Envelope struct {
	ID            string `msgpack:"id"`
	Channel       string `msgpack:"channel"`
	Kind          Kind   `msgpack:"kind"`
	HighWaterMark int    `msgpack:"high_water_mark"`
	State         string `msgpack:"state"`
}

type envelopeWire Envelope

// MarshalBinary encodes the envelope as msgpack.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal((*envelopeWire)(e))
}

// UnmarshalBinary decodes and validates an envelope.
func (e *Envelope) UnmarshalBinary(b []byte) error {
	var w envelopeWire
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "envelope could not be decoded", err)
	}
	env := Envelope(w)
	if err := env.validate(); err != nil {
		return err
	}
	*e = env
	return nil
}

func (e *Envelope) validate() error {
	switch {
	case e.ID == "" || e.Channel == "":
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "envelope is missing its id or channel", nil)
	case e.Kind != KindReadable && e.Kind != KindWritable:
		return tombflow.NewError(tombflow.CodeInvalidEnvelope, "unknown envelope kind "+string(e.Kind), nil)
	}
	return nil
}
