package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProductUpdate(t *testing.T) {
	t.Run("ListArgument", func(t *testing.T) {
		frame := `{"type":1,"target":"ProductUpdate","arguments":[[` +
			`{"mid":"EH1","dataType":4,"id":114,"value":"16"},` +
			`{"mid":"EH1","dataType":2,"id":31,"value":"true"}]]}` + "\x1e"

		msgs, err := DecodeFrame([]byte(frame))
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		events, err := DecodeProductUpdate(msgs[0])
		require.NoError(t, err)
		require.Len(t, events, 2)

		assert.Equal(t, Event{DeviceID: "EH1", DataType: DataTypeInteger, ID: 114, Value: "16"}, events[0])
		assert.Equal(t, Event{DeviceID: "EH1", DataType: DataTypeBoolean, ID: 31, Value: "true"}, events[1])
	})

	t.Run("ObjectArguments", func(t *testing.T) {
		frame := `{"type":1,"target":"ProductUpdate","arguments":[` +
			`{"mid":"EH1","dataType":3,"id":120,"value":"1.5"},` +
			`{"mid":"EH2","dataType":6,"id":1,"value":"OK"}]}` + "\x1e"

		msgs, err := DecodeFrame([]byte(frame))
		require.NoError(t, err)

		events, err := DecodeProductUpdate(msgs[0])
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "EH2", events[1].DeviceID)
	})

	t.Run("NonStringValue", func(t *testing.T) {
		frame := `{"type":1,"target":"ProductUpdate","arguments":[` +
			`{"mid":"EH1","dataType":3,"id":120,"value":1.5},` +
			`{"mid":"EH1","dataType":6,"id":1,"value":null}]}` + "\x1e"

		msgs, err := DecodeFrame([]byte(frame))
		require.NoError(t, err)

		events, err := DecodeProductUpdate(msgs[0])
		require.NoError(t, err)
		assert.Equal(t, "1.5", events[0].Value)
		assert.Equal(t, "", events[1].Value)
	})

	t.Run("MissingDeviceID", func(t *testing.T) {
		frame := `{"type":1,"target":"ProductUpdate","arguments":[{"dataType":3,"id":120,"value":"1"}]}` + "\x1e"

		msgs, err := DecodeFrame([]byte(frame))
		require.NoError(t, err)

		events, err := DecodeProductUpdate(msgs[0])
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Empty(t, events)
	})

	t.Run("MixedBatchKeepsValidEvents", func(t *testing.T) {
		frame := `{"type":1,"target":"ProductUpdate","arguments":[[` +
			`{"mid":"EH1","dataType":4,"id":114,"value":"16"},` +
			`{"mid":"","dataType":4,"id":115,"value":"1"},` +
			`{"mid":"EH2","dataType":"x","id":116,"value":"2"},` +
			`{"mid":"EH2","dataType":6,"id":1,"value":"OK"}]]}` + "\x1e"

		msgs, err := DecodeFrame([]byte(frame))
		require.NoError(t, err)

		events, err := DecodeProductUpdate(msgs[0])
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Contains(t, err.Error(), "skipped 2 event(s)")
		assert.Equal(t, []Event{
			{DeviceID: "EH1", DataType: DataTypeInteger, ID: 114, Value: "16"},
			{DeviceID: "EH2", DataType: DataTypeString, ID: 1, Value: "OK"},
		}, events)
	})

	t.Run("OtherTarget", func(t *testing.T) {
		m, err := NewInvocation("ChargerUpdate", "x")
		require.NoError(t, err)

		_, err = DecodeProductUpdate(m)
		assert.True(t, errors.Is(err, ErrNotProductUpdate))
	})

	t.Run("BuiltUpdateRoundTrips", func(t *testing.T) {
		in := Event{DeviceID: "EH1", DataType: DataTypeInteger, ID: 114, Value: "16"}
		m, err := NewProductUpdate(in)
		require.NoError(t, err)
		assert.Empty(t, m.InvocationID)

		data, err := Encode(m)
		require.NoError(t, err)
		msgs, err := DecodeFrame(data)
		require.NoError(t, err)

		events, err := DecodeProductUpdate(msgs[0])
		require.NoError(t, err)
		assert.Equal(t, []Event{in}, events)
	})
}

func TestEventCoerce(t *testing.T) {
	v, err := Event{DeviceID: "EH1", DataType: DataTypeInteger, ID: 114, Value: "16"}.Coerce()
	require.NoError(t, err)
	assert.Equal(t, 16, v)
}
