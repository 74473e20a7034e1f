package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformationMapSerializesIndexesAscending(t *testing.T) {
	m := TransformationMap{}
	m.Record(10, "a", "1")
	m.Record(10, "555-123-4567", "804-991-2230")
	m.Record(2, "spam", "[REDACTED]")
	m[0] = map[string]string{}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "transformation_map", data)
}

func TestTransformationMapJSONRoundTrip(t *testing.T) {
	m := TransformationMap{}
	m.Record(3, "555-123-4567", "804-991-2230")
	m.Record(1, "bitcoin", "[CRYPTO]")

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded TransformationMap
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
}

func TestTransformationMapUnmarshalRejectsBadIndex(t *testing.T) {
	var m TransformationMap
	err := json.Unmarshal([]byte(`{"x":{"a":"b"}}`), &m)
	assert.Error(t, err)
}

func TestTransformationMapRestore(t *testing.T) {
	m := TransformationMap{}
	m.Record(0, "555-123-4567", "804-991-2230")
	m.Record(0, "555-000-1111", "212-404-9876")

	restored, err := m.Restore(0, "call 804-991-2230 or 212-404-9876")
	require.NoError(t, err)
	assert.Equal(t, "call 555-123-4567 or 555-000-1111", restored)

	untouched, err := m.Restore(7, "nothing here")
	require.NoError(t, err)
	assert.Equal(t, "nothing here", untouched)
}

func TestTransformationMapRestoreAmbiguous(t *testing.T) {
	m := TransformationMap{}
	m.Record(0, "bitcoin", "[REDACTED]")
	m.Record(0, "ethereum", "[REDACTED]")

	_, err := m.Restore(0, "[REDACTED] and [REDACTED]")
	assert.True(t, errors.Is(err, ErrAmbiguousRestore))
}

func TestTransformationMapPairsAndLen(t *testing.T) {
	m := TransformationMap{}
	m.Record(0, "b", "2")
	m.Record(0, "a", "1")
	m.Record(4, "c", "3")

	assert.Equal(t, []int{0, 4}, m.Indexes())
	assert.Equal(t, []Pair{{"a", "1"}, {"b", "2"}}, m.Pairs(0))
	assert.Equal(t, 3, m.Len())
}
