package faces

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflib/libraryd/internal/models"
)

func crop(id int64) *models.FaceCrop {
	return &models.FaceCrop{ID: id}
}

func TestDBSCAN_GroupsDenseNeighboursAndDropsNoise(t *testing.T) {
	crops := []*models.FaceCrop{crop(1), crop(2), crop(3), crop(4), crop(5), crop(6)}
	vecs := map[int64][]float32{
		1: {1, 0, 0},
		2: {0.99, 0.01, 0},
		3: {0.98, 0.02, 0},
		4: {0, 1, 0},
		5: {0.01, 0.99, 0},
		6: {0, 0, 1}, // isolated, no close neighbour
	}

	clusters := dbscan(crops, vecs, 0.05, 2)

	var total int
	foundSingleton := false
	for _, c := range clusters {
		total += len(c)
		if len(c) == 1 {
			foundSingleton = true
		}
	}
	assert.Equal(t, 5, total, "the isolated vector is noise and excluded entirely")
	assert.False(t, foundSingleton, "every returned cluster meets minSamples")
	assert.Len(t, clusters, 2, "two dense neighbourhoods")

	for _, c := range clusters {
		assert.GreaterOrEqual(t, len(c), 2)
	}
}

func TestDBSCAN_AllPointsBelowMinSamplesYieldsNoClusters(t *testing.T) {
	crops := []*models.FaceCrop{crop(1), crop(2)}
	vecs := map[int64][]float32{
		1: {1, 0},
		2: {0, 1},
	}
	clusters := dbscan(crops, vecs, 0.35, 3)
	assert.Empty(t, clusters)
}

func TestNextBranchNumber_SkipsNonFaceBranchesAndTakesMax(t *testing.T) {
	label := "Alice"
	branches := []*models.FaceBranch{
		{BranchKey: "face_001"},
		{BranchKey: "face_007"},
		{BranchKey: "manual_alice", Label: &label},
		{BranchKey: "face_003"},
	}
	n, err := nextBranchNumber(branches)
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestNextBranchNumber_EmptyStartsAtOne(t *testing.T) {
	n, err := nextBranchNumber(nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
