package consensus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mkarlsen/consensus-router/internal/backend"
)

// PromptJudge rates agreement with a single call to a designated cheap
// backend, asking it for one number. The engine treats any failure here
// as a signal to use the word-overlap heuristic instead, so this judge
// never needs to be clever about malformed replies beyond rejecting them.
type PromptJudge struct {
	invoker backend.Invoker
	ref     backend.Ref
}

func NewPromptJudge(invoker backend.Invoker, ref backend.Ref) *PromptJudge {
	return &PromptJudge{invoker: invoker, ref: ref}
}

func (j *PromptJudge) RateAgreement(ctx context.Context, query string, answers []string) (float64, error) {
	var sb strings.Builder
	sb.WriteString("Rate from 0.0 to 1.0 how much the following answers to the question agree with each other. Reply with only the number.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", query)
	for i, answer := range answers {
		fmt.Fprintf(&sb, "\nAnswer %d: %s\n", i+1, answer)
	}

	result, err := j.invoker.Invoke(ctx, j.ref, backend.Request{
		Query:    sb.String(),
		TaskType: "judge",
	})
	if err != nil {
		return 0, err
	}

	score, err := parseScore(result.Answer)
	if err != nil {
		return 0, err
	}
	return score, nil
}

// parseScore accepts the first parseable number in the reply, tolerating
// judges that wrap the score in a sentence.
func parseScore(answer string) (float64, error) {
	for _, field := range strings.Fields(answer) {
		field = strings.Trim(field, ".,:;")
		if score, err := strconv.ParseFloat(field, 64); err == nil {
			return score, nil
		}
	}
	return 0, fmt.Errorf("no score in judge reply %q", truncate(answer, 80))
}
