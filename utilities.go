package sandwich

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

func randomHex(length int) string {
	if length <= 0 {
		return ""
	}

	buf := make([]byte, length)

	_, err := rand.Read(buf)
	if err != nil {
		return ""
	}

	return hex.EncodeToString(buf)
}

// returnRangeInt32 converts a string like 0-4,6-7 to [0,1,2,3,4,6,7]. An
// empty string selects every shard below max. When nodeCount is above one,
// only ids where id % nodeCount == nodeID are kept. Malformed parts are
// ignored.
func returnRangeInt32(nodeCount, nodeID int32, rangeString string, max int32) []int32 {
	seen := make(map[int32]struct{})

	add := func(i int32) {
		if 0 <= i && i < max {
			seen[i] = struct{}{}
		}
	}

	if strings.TrimSpace(rangeString) == "" {
		for i := int32(0); i < max; i++ {
			add(i)
		}
	}

	for _, split := range strings.Split(rangeString, ",") {
		split = strings.TrimSpace(split)
		if split == "" {
			continue
		}

		low, high, isRange := strings.Cut(split, "-")
		if !isRange {
			high = low
		}

		lowValue, err := strconv.ParseInt(strings.TrimSpace(low), 10, 32)
		if err != nil {
			continue
		}

		highValue, err := strconv.ParseInt(strings.TrimSpace(high), 10, 32)
		if err != nil {
			continue
		}

		for i := lowValue; i <= highValue && i < int64(max); i++ {
			add(int32(i))
		}
	}

	result := make([]int32, 0, len(seen))

	for id := range seen {
		if nodeCount > 1 && id%nodeCount != nodeID {
			continue
		}

		result = append(result, id)
	}

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result
}
