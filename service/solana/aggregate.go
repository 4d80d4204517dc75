package solana

// CountPrograms reduces the ordered instruction program-id list to
// per-program invocation counts, excluding ids in the noise set. An
// empty result is valid: it means every instruction was noise.
func CountPrograms(programIDs []string, noise NoiseSet) map[string]int {
	counts := make(map[string]int)
	for _, id := range programIDs {
		if noise.Contains(id) {
			continue
		}
		counts[id]++
	}
	return counts
}
