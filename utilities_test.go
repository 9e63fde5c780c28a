package sandwich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReturnRangeInt32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		rangeString string
		want        []int32
		nodeCount   int32
		nodeID      int32
		max         int32
	}{
		{name: "empty selects all", rangeString: "", max: 4, want: []int32{0, 1, 2, 3}},
		{name: "ranges and singles", rangeString: "0-2,5", max: 10, want: []int32{0, 1, 2, 5}},
		{name: "clamped to max", rangeString: "2-20", max: 5, want: []int32{2, 3, 4}},
		{name: "duplicates removed", rangeString: "1,1-2,2", max: 5, want: []int32{1, 2}},
		{name: "malformed skipped", rangeString: "a,3,-,4-b", max: 5, want: []int32{3}},
		{name: "node partition", rangeString: "", max: 6, nodeCount: 3, nodeID: 1, want: []int32{1, 4}},
		{name: "node partition of range", rangeString: "0-3", max: 10, nodeCount: 2, nodeID: 0, want: []int32{0, 2}},
		{name: "whitespace", rangeString: " 1 - 2 , 4 ", max: 5, want: []int32{1, 2, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, returnRangeInt32(tt.nodeCount, tt.nodeID, tt.rangeString, tt.max))
		})
	}
}

func TestRandomHex(t *testing.T) {
	t.Parallel()

	assert.Len(t, randomHex(4), 8)
	assert.Empty(t, randomHex(0))
	assert.NotEqual(t, randomHex(8), randomHex(8))
}
