package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	r := &Record{
		ID:        NewID(),
		Key:       []byte("k"),
		Value:     []byte("A"),
		EventType: "order.created",
		Timestamp: 1234567890,
		Partition: 2,
		Offset:    5,
	}

	b, err := Marshal(r)
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Key, got.Key)
	assert.Equal(t, r.Value, got.Value)
	assert.Equal(t, r.EventType, got.EventType)
	assert.Equal(t, r.Timestamp, got.Timestamp)
	assert.Equal(t, r.Partition, got.Partition)
	assert.Equal(t, r.Offset, got.Offset)
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	r := &Record{ID: NewID(), Key: []byte("k"), Value: []byte("v"), EventType: "t", Timestamp: 1, Partition: 0, Offset: 0}
	b, err := Marshal(r)
	require.NoError(t, err)

	// A payload with an extra field a newer producer might add must still
	// decode cleanly (spec §6: "additional fields MUST be ignored on read").
	var asMap map[string]any
	require.NoError(t, msgpack.Unmarshal(b, &asMap))
	asMap["future_field"] = "something-new"

	b2, err := msgpack.Marshal(asMap)
	require.NoError(t, err)

	got, err := Unmarshal(b2)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.EventType, got.EventType)
}
