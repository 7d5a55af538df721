package consensus

import "strings"

// ComputeAgreement is the deterministic agreement heuristic: the mean
// pairwise Jaccard similarity of the answers' lowercase word sets. It
// always returns a value in [0,1] for a non-empty response set.
func ComputeAgreement(responses []Response) float64 {
	if len(responses) < 2 {
		return 0.5
	}

	sets := make([]map[string]bool, len(responses))
	for i, resp := range responses {
		sets[i] = wordSet(resp.Answer)
	}

	var total float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			total += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// jaccard is |A∩B| / |A∪B|; two empty sets count as no agreement signal.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for word := range a {
		if b[word] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// overlap is the fraction of a's words also present in b. Used by the
// merge policy to decide whether another answer adds new information.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}

	shared := 0
	for word := range a {
		if b[word] {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		set[word] = true
	}
	return set
}
