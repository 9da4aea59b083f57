package health

import (
	"context"
	"strings"
	"testing"

	"github.com/exovoice/exo/internal/resilience"
	"github.com/exovoice/exo/pkg/history"
)

func TestHistoryCheck(t *testing.T) {
	t.Parallel()

	c := HistoryCheck(history.NewMemoryStore(4))
	if c.Name != "history" {
		t.Fatalf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check on healthy store: %v", err)
	}
}

func TestChainCheckPassesWithOneClosedBreaker(t *testing.T) {
	t.Parallel()

	c := ChainCheck("brain", func() map[string]resilience.BreakerState {
		return map[string]resilience.BreakerState{
			"openai": resilience.BreakerOpen,
			"ollama": resilience.BreakerClosed,
		}
	})
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestChainCheckFailsWhenAllBreakersOpen(t *testing.T) {
	t.Parallel()

	c := ChainCheck("brain", func() map[string]resilience.BreakerState {
		return map[string]resilience.BreakerState{
			"openai": resilience.BreakerOpen,
			"ollama": resilience.BreakerOpen,
		}
	})
	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("Check passed with every breaker open")
	}
	if !strings.Contains(err.Error(), "ollama, openai") {
		t.Fatalf("error = %v, want sorted backend list", err)
	}
}

func TestChainCheckProbingCountsAsHealthy(t *testing.T) {
	t.Parallel()

	c := ChainCheck("tts", func() map[string]resilience.BreakerState {
		return map[string]resilience.BreakerState{
			"piper": resilience.BreakerProbing,
		}
	})
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}
