package captcha

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

// CheckBalance fetches the backend balance and records it on m, which may be
// nil. It warns when the balance is below warnBelow and returns an error
// matching types.ErrCaptchaBalanceEmpty when nothing is left.
func CheckBalance(ctx context.Context, solver CommercialSolver, warnBelow float64, m *Metrics) (float64, error) {
	balance, err := solver.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if m != nil {
		m.UpdateBalance(solver.Name(), balance)
	}

	switch {
	case balance <= 0:
		return balance, types.NewCaptchaBalanceError(solver.Name())
	case balance < warnBelow:
		log.Warn().
			Str("provider", solver.Name()).
			Float64("balance", balance).
			Float64("threshold", warnBelow).
			Msg("Captcha account balance is running low")
	default:
		log.Debug().
			Str("provider", solver.Name()).
			Float64("balance", balance).
			Msg("Captcha account balance")
	}
	return balance, nil
}
