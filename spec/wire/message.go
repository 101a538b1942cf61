package wire

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindUnknown Kind = ""
	KindSyn     Kind = "syn"
	KindAck     Kind = "ack"
	KindCall    Kind = "call"
	KindReturn  Kind = "return"
)

// Message is the tagged union exchanged between two channel endpoints.
// Kind discriminates the variant: syn/ack carry nothing else, call carries
// ID/Handler/Args, return carries ID and exactly one of Result or Error.
//
// Failure is signaled by the presence of Error, not by its contents. A
// return with a nil Result and a nil Error is a successful call that
// produced no value.
type Message struct {
	Kind    Kind        `json:"type"`
	ID      string      `json:"id,omitempty"`
	Handler string      `json:"handler,omitempty"`
	Args    []any       `json:"args,omitempty"`
	Result  any         `json:"result,omitempty"`
	Error   *ErrorValue `json:"error,omitempty"`
}

func Syn() *Message {
	return &Message{Kind: KindSyn}
}

func Ack() *Message {
	return &Message{Kind: KindAck}
}

func Call(id, handler string, args []any) *Message {
	return &Message{
		Kind:    KindCall,
		ID:      id,
		Handler: handler,
		Args:    args,
	}
}

func ReturnResult(id string, result any) *Message {
	return &Message{
		Kind:   KindReturn,
		ID:     id,
		Result: result,
	}
}

func ReturnError(id string, ev *ErrorValue) *Message {
	return &Message{
		Kind:  KindReturn,
		ID:    id,
		Error: ev,
	}
}

// Failed reports whether a return message signals failure. Presence of the
// Error field is the discriminant.
func (m *Message) Failed() bool {
	return m.Error != nil
}

func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding outbound message: %w", err)
	}
	return b, nil
}

func Decode(payload []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("decoding inbound message: %w", err)
	}
	return m, nil
}
