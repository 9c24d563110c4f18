package ingestion

import (
	"math/rand"
)

const (
	DefaultTestRatio = 0.2
	DefaultSplitSeed = 42
)

// RandomSplit shuffles a copy of items with seed and cuts it in two: the
// first floor(len*testRatio) items form the test set, the rest the training
// set. The same seed always yields the same split.
func RandomSplit[T any](items []T, testRatio float64, seed int64) (train, test []T) {
	if testRatio < 0 {
		testRatio = 0
	}
	if testRatio > 1 {
		testRatio = 1
	}

	shuffled := make([]T, len(items))
	copy(shuffled, items)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cut := int(float64(len(shuffled)) * testRatio)
	return shuffled[cut:], shuffled[:cut]
}
