package model_selection

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinix/sourceorder/pkg/errors"
)

func makeLabels(counts ...int) []int {
	var labels []int
	for c, n := range counts {
		for i := 0; i < n; i++ {
			labels = append(labels, c)
		}
	}
	return labels
}

func classCounts(labels, idx []int) map[int]int {
	out := make(map[int]int)
	for _, i := range idx {
		out[labels[i]]++
	}
	return out
}

func TestResolveSizes(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		train     float64
		test      float64
		wantTrain int
		wantTest  int
		wantErr   bool
	}{
		{"absolute counts", 1500, 1200, 300, 1200, 300, false},
		{"fraction test only", 10, 0, 0.25, 7, 3, false},
		{"fraction train only", 10, 0.75, 0, 7, 3, false},
		{"default", 10, 0, 0, 8, 2, false},
		{"unused rows allowed", 100, 50, 20, 50, 20, false},
		{"too large", 100, 90, 20, 0, 0, true},
		{"negative", 100, -1, 0, 0, 0, true},
		{"empty train", 4, 0, 4, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nTrain, nTest, err := ResolveSizes(tt.n, tt.train, tt.test)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrain, nTrain)
			assert.Equal(t, tt.wantTest, nTest)
		})
	}
}

func TestTrainTestSplitStratifies(t *testing.T) {
	labels := makeLabels(900, 450, 147, 3)

	split, err := TrainTestSplit(len(labels), labels, 1200, 300, 42)
	require.NoError(t, err)
	require.Len(t, split.Train, 1200)
	require.Len(t, split.Test, 300)

	all := append(append([]int(nil), split.Train...), split.Test...)
	sort.Ints(all)
	for i := 1; i < len(all); i++ {
		require.NotEqual(t, all[i-1], all[i], "index used twice")
	}

	train := classCounts(labels, split.Train)
	test := classCounts(labels, split.Test)
	for c := 0; c < 4; c++ {
		assert.GreaterOrEqual(t, train[c], 1, "class %d in train", c)
		assert.GreaterOrEqual(t, test[c], 1, "class %d in test", c)
	}
	assert.InDelta(t, 180, test[0], 1)
	assert.InDelta(t, 90, test[1], 1)
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	labels := makeLabels(20, 20, 10)

	a, err := TrainTestSplit(len(labels), labels, 0, 0.2, 7)
	require.NoError(t, err)
	b, err := TrainTestSplit(len(labels), labels, 0, 0.2, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := TrainTestSplit(len(labels), labels, 0, 0.2, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a.Test, c.Test)
}

func TestTrainTestSplitErrors(t *testing.T) {
	tests := []struct {
		name   string
		labels []int
		train  float64
		test   float64
	}{
		{"singleton class", makeLabels(10, 1), 0, 0.3},
		{"test smaller than class count", makeLabels(5, 5, 5), 0, 2},
		{"train smaller than class count", makeLabels(5, 5, 5), 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TrainTestSplit(len(tt.labels), tt.labels, tt.train, tt.test, 42)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrStratification))
		})
	}

	var se *errors.StratificationError
	_, err := TrainTestSplit(11, makeLabels(10, 1), 0, 0.3, 42)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "1", se.Class)
	assert.Equal(t, 1, se.Members)

	_, err = TrainTestSplit(3, []int{0, 1}, 0, 0.5, 42)
	assert.Error(t, err)
}

func TestAllocateRespectsBounds(t *testing.T) {
	alloc, err := allocate(4, []int{97, 2, 1}, []int{1, 1, 1}, []int{96, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1}, alloc)

	_, err = allocate(2, []int{5, 5, 5}, []int{1, 1, 1}, []int{4, 4, 4})
	assert.Error(t, err)
}
