package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/crawler"
	"github.com/Rorqualx/flathunter-go/internal/security"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

var (
	flagPrintHTML bool
	flagJSON      bool
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url> [url2...]",
		Short: "Load pages once, clearing any challenge, and print what was found",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, len(args))
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner(args, 0)
			if err != nil {
				return err
			}
			outcomes, err := r.RunOnce(ctx)
			printOutcomes(outcomes)
			if err != nil {
				return err
			}
			if n := countFailed(outcomes); n > 0 {
				return fmt.Errorf("%d of %d pages failed", n, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagPrintHTML, "html", false, "print the page source of each loaded page")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [url...]",
		Short: "Crawl CRAWL_URLS (or the given URLs) every CRAWL_INTERVAL until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			urls := args
			if len(urls) == 0 {
				urls = cfg.CrawlURLs
			}
			if len(urls) == 0 {
				return fmt.Errorf("no urls given and CRAWL_URLS is empty")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, len(urls))
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner(urls, cfg.CrawlInterval)
			if err != nil {
				return err
			}

			log.Info().
				Int("urls", len(urls)).
				Dur("interval", cfg.CrawlInterval).
				Int("parallel", a.pool.Size()).
				Msg("Crawler started")
			err = r.Run(ctx)
			log.Info().Msg("Shutting down...")
			return err
		},
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the account balance of the configured solving service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			solver, err := buildSolver(cfg)
			if err != nil {
				return err
			}

			log.Debug().
				Str("provider", solver.Name()).
				Str("api_key", security.TruncateSecret(cfg.SolverAPIKey(), 4)).
				Msg("Querying balance")

			balance, err := captcha.CheckBalance(cmd.Context(), solver, cfg.CaptchaBalanceWarn, nil)
			if err != nil && !errors.Is(err, types.ErrCaptchaBalanceEmpty) {
				return err
			}
			fmt.Printf("%s: %.2f\n", solver.Name(), balance)
			return err
		},
	}
}

type outcomeJSON struct {
	URL        string   `json:"url"`
	FinalURL   string   `json:"finalUrl,omitempty"`
	Title      string   `json:"title,omitempty"`
	Challenges []string `json:"challenges,omitempty"`
	Throttled  string   `json:"throttled,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
	HTML       string   `json:"html,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func printOutcomes(outcomes []crawler.Outcome) {
	if flagJSON {
		out := make([]outcomeJSON, 0, len(outcomes))
		for _, o := range outcomes {
			out = append(out, toJSON(o))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Error().Err(err).Msg("Failed to write results")
		}
		return
	}

	for _, o := range outcomes {
		j := toJSON(o)
		if j.Error != "" {
			fmt.Printf("%s\n  error: %s\n", j.URL, j.Error)
			continue
		}
		fmt.Printf("%s\n  title: %s\n  final url: %s\n  challenges: %v\n", j.URL, j.Title, j.FinalURL, j.Challenges)
		if j.Throttled != "" {
			fmt.Printf("  throttled: %s\n", j.Throttled)
		}
		if flagPrintHTML {
			fmt.Println(j.HTML)
		}
	}
}

func toJSON(o crawler.Outcome) outcomeJSON {
	j := outcomeJSON{URL: security.RedactURL(o.URL)}
	if o.Err != nil {
		j.Error = o.Err.Error()
		return j
	}
	if o.Result == nil {
		j.Error = context.Canceled.Error()
		return j
	}
	j.FinalURL = security.RedactURL(o.Result.FinalURL)
	j.Title = o.Result.Title
	j.Challenges = o.Result.Challenges
	j.DurationMs = o.Result.Duration.Milliseconds()
	if o.Result.Throttled.Detected {
		j.Throttled = o.Result.Throttled.Code
	}
	if flagPrintHTML {
		j.HTML = o.Result.HTML
	}
	return j
}

func countFailed(outcomes []crawler.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil || o.Result == nil {
			n++
		}
	}
	return n
}
