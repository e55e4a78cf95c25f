// Package protocol implements the change notification wire format.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/zot/hotmod/internal/module"
)

// MessageType identifies the type of a change notification.
type MessageType string

const (
	// MsgChange carries a full or partial record set.
	MsgChange MessageType = "change"
	// MsgError reports a build failure upstream of the engine.
	MsgError MessageType = "error"
	// MsgBundleError is the older spelling of MsgError.
	MsgBundleError MessageType = "bundle_error"
)

// Message is a tagged change notification.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Error string `json:"error"`
}

// NewChange builds a change message for set.
func NewChange(set module.RecordSet) (Message, error) {
	data, err := EncodeRecords(set)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgChange, Data: data}, nil
}

// NewError builds an error message.
func NewError(text string) Message {
	data, _ := json.Marshal(ErrorData{Error: text})
	return Message{Type: MsgError, Data: data}
}

// ParseMessage decodes one message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	switch msg.Type {
	case MsgChange, MsgError, MsgBundleError:
		return msg, nil
	case "":
		return Message{}, fmt.Errorf("parse message: missing type")
	default:
		return Message{}, fmt.Errorf("parse message: unknown type %q", msg.Type)
	}
}

// IsError reports whether the message is an error notification.
func (m Message) IsError() bool {
	return m.Type == MsgError || m.Type == MsgBundleError
}

// Records decodes the record set carried by a change message.
func (m Message) Records() (module.RecordSet, error) {
	if m.Type != MsgChange {
		return nil, fmt.Errorf("message type %q carries no records", m.Type)
	}
	return DecodeRecords(m.Data)
}

// ErrorText returns the error carried by an error message.
func (m Message) ErrorText() string {
	var data ErrorData
	if err := json.Unmarshal(m.Data, &data); err != nil || data.Error == "" {
		return string(m.Data)
	}
	return data.Error
}
