package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/config"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

func TestBuildStrategy(t *testing.T) {
	sel := selectors.GetManager()

	t.Run("undeclared", func(t *testing.T) {
		solver, strategy, err := buildStrategy(&config.Config{}, sel, captcha.NewMetrics())
		require.NoError(t, err)
		assert.Nil(t, solver)
		assert.Nil(t, strategy)
	})

	t.Run("manual", func(t *testing.T) {
		solver, strategy, err := buildStrategy(&config.Config{CaptchaStrategy: "Manual"}, sel, nil)
		require.NoError(t, err)
		assert.Nil(t, solver)
		assert.Equal(t, "manual", strategy.Name())
	})

	t.Run("commercial", func(t *testing.T) {
		cfg := &config.Config{
			CaptchaStrategy:  "commercial",
			CaptchaProvider:  "capsolver",
			CapSolverAPIKey:  "CAP-test",
			TwoCaptchaAPIKey: "unused",
		}
		solver, strategy, err := buildStrategy(cfg, sel, nil)
		require.NoError(t, err)
		assert.Equal(t, "capsolver", solver.Name())
		assert.Equal(t, "commercial", strategy.Name())
	})

	t.Run("commercial without key", func(t *testing.T) {
		cfg := &config.Config{CaptchaStrategy: "commercial", CaptchaProvider: "2captcha"}
		_, _, err := buildStrategy(cfg, sel, nil)
		assert.ErrorIs(t, err, types.ErrCaptchaNotConfigured)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := buildStrategy(&config.Config{CaptchaStrategy: "psychic"}, sel, nil)
		assert.ErrorIs(t, err, types.ErrUnknownStrategy)
	})
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	setupLogging("debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging("trace")
	assert.Equal(t, zerolog.TraceLevel, zerolog.GlobalLevel())

	setupLogging("nonsense")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	setupLogging("")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
