package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRoundTrip(t *testing.T) {
	task := Task{
		Device:   Device{SerialNo: "A1B2C3", PortIndex: 2, HubValue: 0x1D},
		Kind:     SetState,
		Priority: 1,
	}

	data, err := EncodeTask(task)
	require.NoError(t, err)

	got, err := DecodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestEncodeTaskRejectsUnknownKind(t *testing.T) {
	_, err := EncodeTask(Task{Device: NewDevice("A1B2C3"), Kind: MessageKind(42)})
	assert.Error(t, err)
}

func TestResponseRoundTrip(t *testing.T) {
	r := Response{Status: StatusOK, States: []string{"0b", "00", "00", "00", "09"}}

	data, err := EncodeResponse(r)
	require.NoError(t, err)

	got, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, r, *got)
	assert.True(t, got.OK())
}

func TestDecodeTaskGarbage(t *testing.T) {
	_, err := DecodeTask([]byte("\x80\x01not json"))
	assert.Error(t, err)
}

func TestDecodeResponseKO(t *testing.T) {
	got, err := DecodeResponse([]byte(`{"status":"KO"}`))
	require.NoError(t, err)
	assert.False(t, got.OK())
	assert.Empty(t, got.States)
}
