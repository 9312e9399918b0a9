package transfer

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/artificial-james/tombflow"
)

// MessageType discriminates messages on a port.
type MessageType string

const (
	TypePull   MessageType = "pull"
	TypeChunk  MessageType = "chunk"
	TypeClose  MessageType = "close"
	TypeCancel MessageType = "cancel"
	TypeAbort  MessageType = "abort"
	TypeError  MessageType = "error"
	TypeStream MessageType = "stream"
)

// Message is one unit posted on a Port. Value and Err are cloned by
// serialization; Ports are handed over by reference and only cross
// in-memory channels.
type Message struct {
	Type  MessageType
	Value interface{}
	Flush bool
	Err   error
	Ports []Port
}

type wireMessage struct {
	Type  MessageType `msgpack:"type"`
	Value interface{} `msgpack:"value,omitempty"`
	Flush bool        `msgpack:"flush,omitempty"`
	Error *wireError  `msgpack:"error,omitempty"`
}

type wireError struct {
	Code    string `msgpack:"code,omitempty"`
	Message string `msgpack:"message"`
}

// encodeMessage clones m into its wire form. Values msgpack cannot
// represent fail with ERR_DATA_CLONE. Errors keep their code and text but
// not their cause chain.
func encodeMessage(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Type, Value: m.Value, Flush: m.Flush}
	if m.Err != nil {
		w.Error = &wireError{Code: string(tombflow.CodeOf(m.Err)), Message: m.Err.Error()}
	}
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, tombflow.NewError(tombflow.CodeDataClone, "value could not be cloned", err)
	}
	return b, nil
}

// decodeMessage is the inverse of encodeMessage. Integers decode as int64
// and maps as map[string]interface{}.
func decodeMessage(b []byte) (Message, error) {
	var w wireMessage
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&w); err != nil {
		return Message{}, tombflow.NewError(tombflow.CodeDataClone, "message could not be deserialized", err)
	}

	m := Message{Type: w.Type, Value: w.Value, Flush: w.Flush}
	if w.Error != nil {
		m.Err = w.Error.toError()
	}
	return m, nil
}

func (w *wireError) toError() error {
	if w.Code == "" {
		return errors.New(w.Message)
	}
	return &tombflow.StreamError{Code: tombflow.Code(w.Code), Msg: w.Message}
}
