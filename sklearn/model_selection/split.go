// Package model_selection provides the stratified train/test split used
// before fitting the classifier.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/clinix/sourceorder/pkg/errors"
)

// DefaultTestSize is used when neither size is given.
const DefaultTestSize = 0.2

// Split holds the row indices of each partition.
type Split struct {
	Train []int
	Test  []int
}

// ResolveSizes turns the configured sizes into row counts. A size >= 1 is an
// absolute count, a size in (0, 1) a fraction of n, and 0 means "the rest".
// Fractions round up for the test partition and down for the train partition.
func ResolveSizes(n int, trainSize, testSize float64) (nTrain, nTest int, err error) {
	if trainSize < 0 || testSize < 0 {
		return 0, 0, errors.NewValidationError("split", "sizes must be non-negative", [2]float64{trainSize, testSize})
	}
	if trainSize == 0 && testSize == 0 {
		testSize = DefaultTestSize
	}

	toCount := func(size float64, round func(float64) float64) int {
		if size >= 1 {
			return int(size)
		}
		return int(round(size * float64(n)))
	}

	switch {
	case trainSize == 0:
		nTest = toCount(testSize, math.Ceil)
		nTrain = n - nTest
	case testSize == 0:
		nTrain = toCount(trainSize, math.Floor)
		nTest = n - nTrain
	default:
		nTrain = toCount(trainSize, math.Floor)
		nTest = toCount(testSize, math.Ceil)
	}

	if nTrain+nTest > n {
		return 0, 0, errors.NewStratificationError("", n,
			"train size "+strconv.Itoa(nTrain)+" + test size "+strconv.Itoa(nTest)+" exceeds the number of samples")
	}
	if nTrain < 1 || nTest < 1 {
		return 0, 0, errors.NewStratificationError("", n, "both partitions must be non-empty")
	}
	return nTrain, nTest, nil
}

// TrainTestSplit partitions n samples so that every class of labels appears
// in both partitions with roughly its overall proportion. Per-class counts
// are allocated by largest remainder. The same seed always yields the same split.
func TrainTestSplit(n int, labels []int, trainSize, testSize float64, seed int64) (Split, error) {
	if len(labels) != n {
		return Split{}, errors.NewDimensionError("TrainTestSplit", n, len(labels), 0)
	}
	if n == 0 {
		return Split{}, errors.NewModelError("TrainTestSplit", "empty data", errors.ErrEmptyData)
	}

	nTrain, nTest, err := ResolveSizes(n, trainSize, testSize)
	if err != nil {
		return Split{}, err
	}

	// Group indices by class
	classIndices := make(map[int][]int)
	for i, label := range labels {
		classIndices[label] = append(classIndices[label], i)
	}
	classes := make([]int, 0, len(classIndices))
	for c := range classIndices {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	counts := make([]int, len(classes))
	for k, c := range classes {
		counts[k] = len(classIndices[c])
		if counts[k] < 2 {
			return Split{}, errors.NewStratificationError(strconv.Itoa(c), counts[k],
				"the least populated class has fewer than 2 members")
		}
	}
	if nTest < len(classes) {
		return Split{}, errors.NewStratificationError("", nTest,
			"test size must be at least the number of classes ("+strconv.Itoa(len(classes))+")")
	}
	if nTrain < len(classes) {
		return Split{}, errors.NewStratificationError("", nTrain,
			"train size must be at least the number of classes ("+strconv.Itoa(len(classes))+")")
	}

	ones := make([]int, len(classes))
	upper := make([]int, len(classes))
	for k := range classes {
		ones[k] = 1
		upper[k] = counts[k] - 1
	}
	testAlloc, err := allocate(nTest, counts, ones, upper)
	if err != nil {
		return Split{}, err
	}

	for k := range classes {
		upper[k] = counts[k] - testAlloc[k]
	}
	trainAlloc, err := allocate(nTrain, counts, ones, upper)
	if err != nil {
		return Split{}, err
	}

	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	split := Split{
		Train: make([]int, 0, nTrain),
		Test:  make([]int, 0, nTest),
	}
	for k, c := range classes {
		indices := append([]int(nil), classIndices[c]...)
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		split.Test = append(split.Test, indices[:testAlloc[k]]...)
		split.Train = append(split.Train, indices[testAlloc[k]:testAlloc[k]+trainAlloc[k]]...)
	}

	r.Shuffle(len(split.Train), func(i, j int) {
		split.Train[i], split.Train[j] = split.Train[j], split.Train[i]
	})
	r.Shuffle(len(split.Test), func(i, j int) {
		split.Test[i], split.Test[j] = split.Test[j], split.Test[i]
	})
	return split, nil
}

// allocate distributes total across classes in proportion to weights, keeping
// each share within [lo[k], hi[k]]. Ties go to the lower class index.
func allocate(total int, weights, lo, hi []int) ([]int, error) {
	sumW, sumLo, sumHi := 0, 0, 0
	for k := range weights {
		sumW += weights[k]
		sumLo += lo[k]
		sumHi += hi[k]
	}
	if total < sumLo || total > sumHi {
		return nil, errors.NewStratificationError("", total,
			"cannot place every class in both partitions with the requested sizes")
	}

	quota := make([]float64, len(weights))
	alloc := make([]int, len(weights))
	assigned := 0
	for k, w := range weights {
		quota[k] = float64(total) * float64(w) / float64(sumW)
		a := int(math.Floor(quota[k]))
		a = max(lo[k], min(hi[k], a))
		alloc[k] = a
		assigned += a
	}

	for assigned < total {
		best := -1
		for k := range alloc {
			if alloc[k] < hi[k] && (best < 0 || quota[k]-float64(alloc[k]) > quota[best]-float64(alloc[best])) {
				best = k
			}
		}
		alloc[best]++
		assigned++
	}
	for assigned > total {
		best := -1
		for k := range alloc {
			if alloc[k] > lo[k] && (best < 0 || quota[k]-float64(alloc[k]) < quota[best]-float64(alloc[best])) {
				best = k
			}
		}
		alloc[best]--
		assigned--
	}
	return alloc, nil
}
