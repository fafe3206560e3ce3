package abtest

import "unicode/utf16"

// Hash is the deterministic string hash used for all bucketing decisions.
// It is the classic shift-and-subtract string hash computed in 32-bit
// arithmetic over UTF-16 code units, so assignments made by older clients
// of the marketplace remain stable across reimplementations (including for
// supplementary-plane characters, which hash as surrogate pairs). Not
// cryptographic; collisions across (user, experiment) pairs are expected
// and fine.
func Hash(s string) int {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(u)
	}
	if h < 0 {
		return int(-int64(h))
	}
	return int(h)
}

// Bucket maps a user into the allocation range [1,100] for an experiment.
// Including the experiment id keeps buckets uncorrelated across
// experiments.
func Bucket(userID, experimentID string) int {
	return Hash(userID+experimentID)%100 + 1
}

// variantDraw maps a user into [1,totalWeight] for weighted variant
// selection. The "variant" suffix decorrelates the draw from the
// allocation bucket.
func variantDraw(userID, experimentID string, totalWeight int) int {
	return Hash(userID+experimentID+"variant")%totalWeight + 1
}
