package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

// sortKey orders GPU plans by parallel-GPU count, then by chassis size.
// Both attributes are encoded in the plan identifier itself, e.g.
// "g2-gpu-rtx4000a2-m": the accelerator segment's trailing "a2" carries
// the GPU count and the final "-m" suffix the size tier.
type sortKey struct {
	gpus     int
	sizeRank int
}

var acceleratorCount = regexp.MustCompile(`a(\d+)$`)

// sizeRanks orders the recognized size suffixes ascending. Unknown
// suffixes sort after every known one.
var sizeRanks = map[string]int{
	"s":  0,
	"m":  1,
	"l":  2,
	"xl": 3,
}

const unknownSizeRank = 4

func parseSortKey(id string) sortKey {
	key := sortKey{gpus: 1, sizeRank: unknownSizeRank}

	segments := strings.Split(id, "-")
	if len(segments) == 0 {
		return key
	}

	last := segments[len(segments)-1]
	if rank, ok := sizeRanks[last]; ok {
		key.sizeRank = rank
		segments = segments[:len(segments)-1]
	}

	if len(segments) > 0 {
		if m := acceleratorCount.FindStringSubmatch(segments[len(segments)-1]); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				key.gpus = n
			}
		}
	}

	return key
}
