package model

// TallySnapshot maps every choice to its current number of votes.
type TallySnapshot map[string]int

// NewTallySnapshot seeds every known choice at zero so observers always see
// the same keys, even before the first vote.
func NewTallySnapshot(choices []string) TallySnapshot {
	s := make(TallySnapshot, len(choices))
	for _, c := range choices {
		s[c] = 0
	}
	return s
}

// Merge overwrites the seeded counts with the ones read from the store.
// Choices the store knows about but that were not seeded are added.
func (s TallySnapshot) Merge(counts map[string]int) TallySnapshot {
	for choice, n := range counts {
		s[choice] = n
	}
	return s
}

// Total is the number of voters represented by the snapshot.
func (s TallySnapshot) Total() int {
	var total int
	for _, n := range s {
		total += n
	}
	return total
}
