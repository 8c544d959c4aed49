package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestH2DataRoundTrip(t *testing.T) {
	d := &Data{EndStream: true, Bytes: []byte("hello")}
	payload, flags, err := d.Serialize(nil)
	require.NoError(t, err)

	fr := Frame{Type: TypeData, Flags: flags, StreamID: 1, Payload: payload}
	var buf bytes.Buffer
	_, err = Serialize(fr, &buf)
	require.NoError(t, err)

	got, consumed, err := ParseOne(buf.Bytes(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), consumed)
	require.Equal(t, TypeData, got.Type)
	require.Equal(t, uint32(1), got.StreamID)

	var d2 Data
	require.NoError(t, d2.Deserialize(got.Payload, got.Flags))
	require.True(t, d2.EndStream)
	require.Equal(t, "hello", string(d2.Bytes))
}

func TestSettingsFrameMustBeConnectionLevel(t *testing.T) {
	fr := Frame{Type: TypeSettings, StreamID: 3, Payload: nil}
	require.ErrorIs(t, validateControlFrame(fr), ErrBadStreamID)
}

func TestSettingsAckMustBeEmpty(t *testing.T) {
	fr := Frame{Type: TypeSettings, Flags: FlagAck, StreamID: 0, Payload: []byte{1}}
	require.ErrorIs(t, validateControlFrame(fr), ErrFrameSize)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := &Settings{Params: map[SettingID]uint32{
		SettingInitialWindowSize: 65535,
		SettingMaxFrameSize:      16384,
	}}
	payload, _, err := s.Serialize(nil)
	require.NoError(t, err)

	var s2 Settings
	require.NoError(t, s2.Deserialize(payload, 0))
	require.Equal(t, s.Params, s2.Params)
}

func TestFrameExceedsHardCapRejected(t *testing.T) {
	fr := Frame{Type: TypeData, Payload: make([]byte, HardMaxFrameLen+1)}
	var buf bytes.Buffer
	_, err := Serialize(fr, &buf)
	require.ErrorIs(t, err, ErrFrameSize)
}

func TestH3SettingsRoundTrip(t *testing.T) {
	s := &H3Settings{Params: map[uint64]uint64{0x6: 100, 0x8: 1}}
	payload, _, err := s.Serialize(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = SerializeH3(Frame{Type: TypeSettings, Payload: payload}, &buf)
	require.NoError(t, err)

	got, consumed, err := ParseOneH3(buf.Bytes(), 0)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), consumed)

	var s2 H3Settings
	require.NoError(t, s2.Deserialize(got.Payload, 0))
	require.Equal(t, s.Params, s2.Params)
}
