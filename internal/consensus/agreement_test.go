package consensus_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkarlsen/consensus-router/internal/backend"
	"github.com/mkarlsen/consensus-router/internal/consensus"
)

func responses(answers ...string) []consensus.Response {
	out := make([]consensus.Response, len(answers))
	for i, answer := range answers {
		out[i] = consensus.Response{
			Backend: backend.Ref{Provider: "p", Model: string(rune('a' + i))},
			Answer:  answer,
		}
	}
	return out
}

var _ = Describe("ComputeAgreement", func() {
	DescribeTable("scoring answer sets",
		func(answers []string, expected float64) {
			Expect(consensus.ComputeAgreement(responses(answers...))).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("identical answers", []string{"paris", "paris"}, 1.0),
		Entry("identical up to case", []string{"Paris", "paris"}, 1.0),
		Entry("no shared words", []string{"yes", "no"}, 0.0),
		Entry("half overlap", []string{"red blue", "red green"}, 1.0/3.0),
		Entry("single answer is neutral", []string{"paris"}, 0.5),
		Entry("empty set is neutral", []string{}, 0.5),
		Entry("two empty answers carry no signal", []string{"", ""}, 0.0),
	)

	It("should average over all pairs of three answers", func() {
		// identical pair scores 1, the two pairs against "no" score 0.
		score := consensus.ComputeAgreement(responses("yes", "yes", "no"))
		Expect(score).To(BeNumerically("~", 1.0/3.0, 1e-9))
	})

	It("should stay within [0,1] for arbitrary input", func() {
		score := consensus.ComputeAgreement(responses(
			"the quick brown fox",
			"a slow red fox",
			"",
			"THE QUICK BROWN FOX jumps",
		))
		Expect(score).To(BeNumerically(">=", 0.0))
		Expect(score).To(BeNumerically("<=", 1.0))
	})
})
