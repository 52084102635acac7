package syncplan

import (
	"context"
	"errors"
	"testing"

	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	syncs  map[string][]db.RecordIdSync
	bounds map[string]uint64
	err    error
}

func (m *memStore) GetRecordIdSyncs(address string) ([]db.RecordIdSync, error) {
	return m.syncs[address], m.err
}

func (m *memStore) GetAccountCreationRecordId(address string) (uint64, error) {
	return m.bounds[address], nil
}

func ranges(address string, pairs ...uint64) []db.RecordIdSync {
	var out []db.RecordIdSync
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, db.RecordIdSync{Address: address, StartId: pairs[i], EndId: pairs[i+1]})
	}
	return out
}

func spans(steps []Step) [][2]uint64 {
	out := make([][2]uint64, len(steps))
	for i, s := range steps {
		out[i] = [2]uint64{s.Start, s.End}
	}
	return out
}

func TestSingleSyncPlan(t *testing.T) {
	tests := []struct {
		name     string
		bound    uint64
		recorded []db.RecordIdSync
		target   uint64
		want     [][2]uint64
	}{
		{
			name:   "nothing recorded",
			bound:  0,
			target: 119,
			want:   [][2]uint64{{0, 120}},
		},
		{
			name:     "gap and head",
			bound:    0,
			recorded: ranges("a", 80, 100, 0, 50),
			target:   119,
			want:     [][2]uint64{{50, 80}, {100, 120}},
		},
		{
			name:     "genesis step",
			bound:    10,
			recorded: ranges("a", 40, 120),
			target:   119,
			want:     [][2]uint64{{10, 40}},
		},
		{
			name:     "already at head",
			bound:    0,
			recorded: ranges("a", 0, 60, 60, 120),
			target:   119,
			want:     nil,
		},
		{
			name:     "several gaps",
			bound:    0,
			recorded: ranges("a", 0, 10, 20, 30, 40, 50),
			target:   59,
			want:     [][2]uint64{{10, 20}, {30, 40}, {50, 60}},
		},
		{
			name:     "ranges below the bound are ignored",
			bound:    100,
			recorded: ranges("a", 0, 50),
			target:   149,
			want:     [][2]uint64{{100, 150}},
		},
		{
			name:     "overlapping and malformed ranges",
			bound:    0,
			recorded: ranges("a", 0, 50, 30, 70, 90, 90, 95, 80),
			target:   99,
			want:     [][2]uint64{{70, 100}},
		},
		{
			name:   "bound above target",
			bound:  200,
			target: 119,
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := SingleSyncPlan("a", tt.bound, tt.recorded, tt.target)
			if tt.want == nil {
				assert.Empty(t, steps)
				return
			}
			assert.Equal(t, tt.want, spans(steps))
			for _, s := range steps {
				assert.Less(t, s.Start, s.End)
				assert.GreaterOrEqual(t, s.Start, tt.bound)
				assert.Equal(t, []string{"a"}, s.AddressesToCheck)
			}
		})
	}
}

func TestChunkStepAligned(t *testing.T) {
	want := [][2]uint64{{0, 100}, {100, 200}, {200, 250}}
	assert.Equal(t, want, spans(ChunkStep(Step{Start: 0, End: 250}, 100)))

	// boundaries depend on batch size only
	assert.Equal(t, [][2]uint64{{150, 200}, {200, 250}}, spans(ChunkStep(Step{Start: 150, End: 250}, 100)))
	assert.Equal(t, [][2]uint64{{120, 180}}, spans(ChunkStep(Step{Start: 120, End: 180}, 100)))

	// a chunk of a chunk is itself
	for _, c := range ChunkStep(Step{Start: 0, End: 250}, 100) {
		assert.Equal(t, [][2]uint64{{c.Start, c.End}}, spans(ChunkStep(c, 100)))
	}

	assert.Equal(t, [][2]uint64{{0, 250}}, spans(ChunkStep(Step{Start: 0, End: 250}, 0)))
}

func TestCombineMatchingSteps(t *testing.T) {
	steps := CombineMatchingSteps([]Step{
		{Start: 10, End: 20, AddressesToCheck: []string{"a"}},
		{Start: 20, End: 30, AddressesToCheck: []string{"a"}},
		{Start: 10, End: 20, AddressesToCheck: []string{"b"}},
		{Start: 10, End: 20, AddressesToCheck: []string{"a"}},
	})
	require.Len(t, steps, 2)
	assert.Equal(t, Step{Start: 10, End: 20, AddressesToCheck: []string{"a", "b"}}, steps[0])
	assert.Equal(t, Step{Start: 20, End: 30, AddressesToCheck: []string{"a"}}, steps[1])
}

func TestCreatePlan(t *testing.T) {
	store := &memStore{
		syncs: map[string][]db.RecordIdSync{
			"a": ranges("a", 0, 50, 80, 100),
			"b": ranges("b", 0, 100),
		},
		bounds: map[string]uint64{"c": 150},
	}
	steps, err := CreatePlan(context.Background(), store, []string{"a", "b", "c"}, 249, 100)
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Start: 50, End: 80, AddressesToCheck: []string{"a"}},
		{Start: 100, End: 200, AddressesToCheck: []string{"a", "b"}},
		{Start: 200, End: 250, AddressesToCheck: []string{"a", "b", "c"}},
		{Start: 150, End: 200, AddressesToCheck: []string{"c"}},
	}, steps)

	SortForExecution(steps)
	assert.Equal(t, [][2]uint64{{200, 250}, {100, 200}, {150, 200}, {50, 80}}, spans(steps))

	store.err = errors.New("db closed")
	_, err = CreatePlan(context.Background(), store, []string{"a"}, 249, 100)
	assert.ErrorContains(t, err, "db closed")
}

func TestCompactRanges(t *testing.T) {
	compacted := CompactRanges("a", ranges("a", 50, 80, 0, 50, 100, 120, 110, 115, 7, 7))
	assert.Equal(t, ranges("a", 0, 80, 100, 120), compacted)
	assert.Empty(t, CompactRanges("a", nil))
}

func TestEstimatedSyncFraction(t *testing.T) {
	assert.Equal(t, 0.25, EstimatedSyncFraction(nil, 0, 0.25))
	assert.Equal(t, 1.0, EstimatedSyncFraction(ranges("a", 0, 100), 0, 0))
	assert.InDelta(t, 0.5, EstimatedSyncFraction(ranges("a", 0, 25, 75, 100), 0, 0), 1e-9)
	assert.InDelta(t, 0.5, EstimatedSyncFraction(ranges("a", 0, 60, 110, 150), 50, 0), 1e-9)
}
