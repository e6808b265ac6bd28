package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// PollSpec borne une attente : Attempts vérifications espacées de Interval.
type PollSpec struct {
	Interval time.Duration
	Attempts int
}

// Condition renvoie true quand l'état attendu est atteint.
// Une erreur n'interrompt pas l'attente; la dernière est rapportée au timeout.
type Condition func(ctx context.Context) (bool, error)

// WaitUntil vérifie cond jusqu'à succès ou épuisement des essais.
// Timeout -> ErrResolverTransient; annulation -> ctx.Err().
func WaitUntil(ctx context.Context, spec PollSpec, what string, cond Condition) error {
	if spec.Attempts <= 0 {
		spec.Attempts = 1
	}
	var lastErr error
	for i := 0; i < spec.Attempts; i++ {
		ok, err := cond(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if i == spec.Attempts-1 {
			break
		}
		if err := sleepCtx(ctx, spec.Interval); err != nil {
			return err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w: timed out waiting for %s: %v", domain.ErrResolverTransient, what, lastErr)
	}
	return fmt.Errorf("%w: timed out waiting for %s", domain.ErrResolverTransient, what)
}

// sleepCtx est une pause interruptible.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
