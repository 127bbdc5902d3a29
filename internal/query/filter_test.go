// ABOUTME: Tests for filter predicate evaluation and JSON round-trips
// ABOUTME: Covers comparison operators, AND/OR trees, missing fields and validation

package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Match(t *testing.T) {
	rec := Record{
		"id":   "m1",
		"from": "alice",
		"to":   "bob",
		"read": false,
		"seq":  float64(3),
	}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil matches all", nil, true},
		{"eq hit", Cond("from", OpEq, "alice"), true},
		{"eq miss", Cond("from", OpEq, "bob"), false},
		{"ne hit", Cond("from", OpNe, "bob"), true},
		{"ne on missing field", Cond("missing", OpNe, "x"), true},
		{"eq on missing field", Cond("missing", OpEq, "x"), false},
		{"bool eq", Cond("read", OpEq, false), true},
		{"int vs float", Cond("seq", OpEq, 3), true},
		{"gt", Cond("seq", OpGt, 2), true},
		{"lte", Cond("seq", OpLte, 2), false},
		{"string lt", Cond("to", OpLt, "carol"), true},
		{"mismatched kinds never order", Cond("seq", OpGt, "a"), false},
		{
			"and all",
			And(Cond("from", OpEq, "alice"), Cond("to", OpEq, "bob")),
			true,
		},
		{
			"and one miss",
			And(Cond("from", OpEq, "alice"), Cond("to", OpEq, "carol")),
			false,
		},
		{
			"or any",
			Or(Cond("to", OpEq, "ALL"), Cond("from", OpEq, "alice")),
			true,
		},
		{
			"nested thread filter",
			Or(
				And(Cond("to", OpEq, "alice"), Cond("from", OpEq, "bob")),
				And(Cond("to", OpEq, "bob"), Cond("from", OpEq, "alice")),
			),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(rec))
		})
	}
}

func TestFilter_MatchTime(t *testing.T) {
	now := time.Now()
	rec := Record{"time": now}

	assert.True(t, Cond("time", OpEq, now).Match(rec))
	assert.True(t, Cond("time", OpLt, now.Add(time.Second)).Match(rec))
	assert.False(t, Cond("time", OpGt, now.Add(time.Second)).Match(rec))
}

func TestFilter_NonComparableValuesDoNotPanic(t *testing.T) {
	rec := Record{"tags": []any{"a", "b"}}

	assert.NotPanics(t, func() {
		assert.False(t, Cond("tags", OpEq, "a").Match(rec))
	})
}

func TestFilter_JSONRoundTrip(t *testing.T) {
	f := Or(
		And(Cond("to", OpEq, "alice"), Cond("from", OpEq, "bob")),
		Cond("to", OpEq, "ALL"),
	)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	parsed, err := ParseFilter(string(data))
	require.NoError(t, err)

	assert.True(t, parsed.Match(Record{"to": "ALL", "from": "zed"}))
	assert.True(t, parsed.Match(Record{"to": "alice", "from": "bob"}))
	assert.False(t, parsed.Match(Record{"to": "alice", "from": "carol"}))
}

func TestFilter_JSONKeepsZeroValues(t *testing.T) {
	data, err := json.Marshal(Cond("isActive", OpEq, false))
	require.NoError(t, err)

	parsed, err := ParseFilter(string(data))
	require.NoError(t, err)
	assert.True(t, parsed.Match(Record{"isActive": false}))
	assert.False(t, parsed.Match(Record{"isActive": true}))
}

func TestParseFilter_Empty(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Cond("a", OpEq, 1).Validate())
	assert.Error(t, Cond("", OpEq, 1).Validate())
	assert.Error(t, (&Filter{Op: "like", Field: "a"}).Validate())
	assert.Error(t, And().Validate())
	assert.Error(t, Or(Cond("a", OpEq, 1), &Filter{Op: "bogus"}).Validate())

	_, err := ParseFilter(`{"op":"~","field":"a"}`)
	assert.Error(t, err)
}

func TestRecord_Accessors(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		"id":    "r1",
		"read":  true,
		"rfc":   ts.Format(time.RFC3339Nano),
		"ms":    float64(ts.UnixMilli()),
		"bogus": "yesterday",
	}

	assert.Equal(t, "r1", rec.ID())
	assert.Equal(t, "", rec.String("missing"))
	assert.True(t, rec.Bool("read"))

	got, ok := rec.Time("rfc")
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	got, ok = rec.Time("ms")
	require.True(t, ok)
	assert.True(t, ts.Equal(got))

	_, ok = rec.Time("bogus")
	assert.False(t, ok)

	clone := rec.Clone()
	clone["id"] = "changed"
	assert.Equal(t, "r1", rec.ID())
}

func TestEvent_Tagging(t *testing.T) {
	assert.False(t, Data([]Record{{"id": "a"}}).IsError())
	assert.True(t, Error(assert.AnError).IsError())
}
