package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/exovoice/exo/internal/resilience"
	"github.com/exovoice/exo/pkg/history"
)

// HistoryCheck probes the command history store with a cheap read. It is the
// readiness signal for the database connection.
func HistoryCheck(store history.Store) Checker {
	return Checker{
		Name: "history",
		Check: func(ctx context.Context) error {
			_, err := store.Recent(ctx, "", 1)
			return err
		},
	}
}

// ChainCheck reports a provider chain as unhealthy when every backend's
// breaker is open. A chain with at least one admitting backend still serves
// commands and stays ready.
func ChainCheck(name string, states func() map[string]resilience.BreakerState) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			open := make([]string, 0, len(st))
			for backend, state := range st {
				if state == resilience.BreakerOpen {
					open = append(open, backend)
				}
			}
			if len(st) > 0 && len(open) == len(st) {
				sort.Strings(open)
				return fmt.Errorf("all backends open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}
