package bootstrap

import (
	"context"
	"errors"
	"time"

	"triage_server/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// Serve runs until ctx is cancelled. The loop starts when auto_start is set;
// withAPI also serves the control API. Shutdown is bounded by shutdownTimeout.
func Serve(ctx context.Context, deps *Dependencies, withAPI bool) error {
	log := logger.Component("serve")
	cfg := deps.Config

	if cfg.Automation.AutoStart {
		if err := deps.Loop.Start(ctx); err != nil {
			if !withAPI {
				return err
			}
			// the control API can retry once the collaborator recovers
			log.Error().Err(err).Msg("automation did not start")
		}
	}

	errCh := make(chan error, 1)
	if withAPI {
		app := NewAPI(deps)
		go func() {
			addr := ":" + cfg.Port
			log.Info().Str("addr", addr).Msg("starting control API")
			errCh <- app.Listen(addr)
		}()
		defer func() {
			if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
				log.Error().Err(err).Msg("control API shutdown failed")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("control API stopped")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.Loop.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("automation did not stop in time")
		runErr = errors.Join(runErr, err)
	}

	if deps.LLM != nil {
		costs := deps.LLM.Costs()
		log.Info().
			Int64("requests", costs.RequestCount).
			Int64("tokens", costs.TotalTokens).
			Float64("cost_usd", costs.TotalCost).
			Msg("llm usage")
	}
	return runErr
}
