package wire

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallRoundTrip(t *testing.T) {
	as := require.New(t)

	payload, err := Call("tok-1", "add", []any{2, 3}).Encode()
	as.NoError(err)

	m, err := Decode(payload)
	as.NoError(err)
	as.Equal(KindCall, m.Kind)
	as.Equal("tok-1", m.ID)
	as.Equal("add", m.Handler)
	as.Len(m.Args, 2)
}

func TestFailureDiscriminantIsPresence(t *testing.T) {
	as := require.New(t)

	ok, err := ReturnResult("tok-2", nil).Encode()
	as.NoError(err)
	m, err := Decode(ok)
	as.NoError(err)
	as.False(m.Failed())
	as.Nil(m.Result)

	// an error with an empty message still signals failure
	failed, err := ReturnError("tok-3", &ErrorValue{}).Encode()
	as.NoError(err)
	m, err = Decode(failed)
	as.NoError(err)
	as.True(m.Failed())
}

func TestUnknownKindDecodes(t *testing.T) {
	as := require.New(t)

	m, err := Decode([]byte(`{"type":"gossip"}`))
	as.NoError(err)
	as.NotEqual(KindSyn, m.Kind)
	as.NotEqual(KindAck, m.Kind)
	as.NotEqual(KindCall, m.Kind)
	as.NotEqual(KindReturn, m.Kind)
}

func TestDecodeMalformed(t *testing.T) {
	as := require.New(t)

	_, err := Decode([]byte("not json"))
	as.Error(err)
}

type attrErr struct {
	code int
}

func (a *attrErr) Error() string {
	return "attributed failure"
}

func (a *attrErr) ErrorAttrs() map[string]any {
	return map[string]any{"code": a.code}
}

func TestNormalizeError(t *testing.T) {
	as := require.New(t)

	plain := NormalizeError(fmt.Errorf("boom"))
	as.Equal("boom", plain.Message)
	as.Empty(plain.Stack)
	as.Nil(plain.Attrs)

	attributed := NormalizeError(fmt.Errorf("wrapped: %w", &attrErr{code: 7}))
	as.Equal("wrapped: attributed failure", attributed.Message)
	as.Equal(7, attributed.Attrs["code"])

	// already-normalized errors pass through unchanged
	ev := &ErrorValue{Message: "remote", Stack: "trace"}
	as.Same(ev, NormalizeError(fmt.Errorf("relay: %w", ev)))
}
