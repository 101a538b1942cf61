package wire

import "go.uber.org/zap/zapcore"

var _ zapcore.ObjectMarshaler = (*Message)(nil)

func (m *Message) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", string(m.Kind))
	if m.ID != "" {
		enc.AddString("id", m.ID)
	}
	if m.Handler != "" {
		enc.AddString("handler", m.Handler)
	}
	if m.Error != nil {
		enc.AddString("error", m.Error.Message)
	}
	return nil
}
