package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuseRRF_CombinesRanks(t *testing.T) {
	dense := []ScoredPoint{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	sparse := []ScoredPoint{{ID: "b"}, {ID: "a"}}

	fused := FuseRRF(60, 10, dense, sparse)

	// "a" is rank1 in dense (1/61) and rank2 in sparse (1/62): highest combined.
	// "b" is rank2 in dense (1/62) and rank1 in sparse (1/61): same combined score as "a".
	assert.Len(t, fused, 3)
	assert.Contains(t, []string{"a", "b"}, fused[0].ID)
	assert.Equal(t, "c", fused[2].ID)
}

func TestFuseRRF_PermutationInvariantSet(t *testing.T) {
	dense1 := []ScoredPoint{{ID: "x"}, {ID: "y"}, {ID: "z"}}
	sparse1 := []ScoredPoint{{ID: "z"}, {ID: "x"}}

	dense2 := []ScoredPoint{{ID: "z"}, {ID: "y"}, {ID: "x"}}
	sparse2 := []ScoredPoint{{ID: "x"}, {ID: "z"}}

	f1 := FuseRRF(60, 10, dense1, sparse1)
	f2 := FuseRRF(60, 10, dense2, sparse2)

	ids1 := idsOf(f1)
	ids2 := idsOf(f2)
	assert.ElementsMatch(t, ids1, ids2)
}

func TestFuseRRF_RespectsLimit(t *testing.T) {
	dense := []ScoredPoint{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	fused := FuseRRF(60, 2, dense)
	assert.Len(t, fused, 2)
}

func TestMergeByID_HigherScoreWins(t *testing.T) {
	a := []ScoredPoint{{ID: "p1", Score: 0.5}}
	b := []ScoredPoint{{ID: "p1", Score: 0.9}, {ID: "p2", Score: 0.2}}

	merged := MergeByID(10, a, b)

	assert.Len(t, merged, 2)
	assert.Equal(t, "p1", merged[0].ID)
	assert.Equal(t, float32(0.9), merged[0].Score)
}

func TestMergeByID_InsertionOrder(t *testing.T) {
	a := []ScoredPoint{{ID: "p2", Score: 0.1}}
	b := []ScoredPoint{{ID: "p1", Score: 0.1}}

	merged := MergeByID(10, a, b)
	assert.Equal(t, []string{"p2", "p1"}, idsOf(merged))
}

func idsOf(ps []ScoredPoint) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
