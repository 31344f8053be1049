package captcha

import (
	"errors"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

// Outcome classifies the result of a single solve attempt.
type Outcome int

const (
	OutcomeSolved Outcome = iota
	OutcomeUnsolvable
	OutcomeBalanceExhausted
	OutcomeTransientFailure
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeUnsolvable:
		return "unsolvable"
	case OutcomeBalanceExhausted:
		return "balance_exhausted"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return "failed"
	}
}

// Retryable reports whether the strategy should reload the page and try again.
// Only unsolvable attempts qualify; everything else is surfaced at once.
func (o Outcome) Retryable() bool {
	return o == OutcomeUnsolvable
}

// Classify maps an attempt error onto an Outcome. A nil error is OutcomeSolved.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSolved
	case errors.Is(err, types.ErrCaptchaBalanceEmpty):
		return OutcomeBalanceExhausted
	case errors.Is(err, types.ErrCaptchaUnsolvable):
		return OutcomeUnsolvable
	case errors.Is(err, types.ErrCaptchaNetwork):
		return OutcomeTransientFailure
	default:
		return OutcomeFailed
	}
}
