package consensus

import (
	"fmt"
	"strings"
)

// Agreement thresholds separating the three merge regimes.
const (
	highAgreement     = 0.8
	moderateAgreement = 0.5
)

// merge combines multiple answers according to the agreement level.
//
// High agreement: the answers say the same thing, so the longest (most
// complete) one is returned verbatim. Moderate agreement: the longest
// answer leads and any answer contributing mostly new words is appended
// as an additional perspective. Low agreement: no synthesis is attempted;
// every answer is shown labeled by its backend so a reader is never
// handed a falsely-unified result.
func merge(responses []Response, agreement float64) string {
	primary := longest(responses)

	switch {
	case agreement >= highAgreement:
		return primary.Answer

	case agreement >= moderateAgreement:
		var extras []string
		primaryWords := wordSet(primary.Answer)
		for _, resp := range responses {
			if resp.Backend == primary.Backend {
				continue
			}
			if overlap(wordSet(resp.Answer), primaryWords) < 0.5 {
				extras = append(extras, fmt.Sprintf("- %s: %s", resp.Backend.Key(), resp.Answer))
			}
		}
		if len(extras) == 0 {
			return primary.Answer
		}
		return primary.Answer + "\n\nAdditional perspectives:\n" + strings.Join(extras, "\n")

	default:
		var sections []string
		for _, resp := range responses {
			sections = append(sections, fmt.Sprintf("[%s]\n%s", resp.Backend.Key(), resp.Answer))
		}
		return "Providers disagree on this query; their answers are shown separately:\n\n" +
			strings.Join(sections, "\n\n")
	}
}

func longest(responses []Response) Response {
	best := responses[0]
	for _, resp := range responses[1:] {
		if len(resp.Answer) > len(best.Answer) {
			best = resp
		}
	}
	return best
}
