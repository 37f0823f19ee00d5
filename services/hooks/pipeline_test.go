package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedPlayerHook drives the chain through a fixed outcome for tests.
type scriptedPlayerHook struct {
	name     string
	priority int
	enabled  bool
	matches  bool
	run      func(*Player) Outcome[Player]
	calls    int
}

func (h *scriptedPlayerHook) Name() string         { return h.name }
func (h *scriptedPlayerHook) Priority() int        { return h.priority }
func (h *scriptedPlayerHook) Enabled() bool        { return h.enabled }
func (h *scriptedPlayerHook) Matches(*Player) bool { return h.matches }
func (h *scriptedPlayerHook) Execute(_ context.Context, p *Player) Outcome[Player] {
	h.calls++
	return h.run(p)
}

func emptyPipeline() *Pipeline {
	return &Pipeline{stats: make(map[string]*hookCounters), timeout: hookTimeout}
}

func TestRunPlayerPriorityOrder(t *testing.T) {
	p := emptyPipeline()
	var order []string
	mk := func(name string, prio int) *scriptedPlayerHook {
		return &scriptedPlayerHook{
			name: name, priority: prio, enabled: true, matches: true,
			run: func(pl *Player) Outcome[Player] {
				order = append(order, name)
				return Success(pl)
			},
		}
	}
	// Registered out of order; execution must follow priority.
	p.RegisterPlayer(mk("third", 30))
	p.RegisterPlayer(mk("first", 10))
	p.RegisterPlayer(mk("second", 20))

	p.RunPlayer(context.Background(), &Player{URL: "https://example.com/a.mp4"})

	want := []string{"first", "second", "third"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
}

func TestRunPlayerFailureKeepsPriorValue(t *testing.T) {
	p := emptyPipeline()
	p.RegisterPlayer(&scriptedPlayerHook{
		name: "rewriter", priority: 10, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] {
			pl.URL = "https://cdn.example.com/a.m3u8"
			return Success(pl)
		},
	})
	p.RegisterPlayer(&scriptedPlayerHook{
		name: "broken", priority: 20, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] {
			pl.URL = "garbage"
			return Fail[Player](errors.New("boom"))
		},
	})

	out := p.RunPlayer(context.Background(), &Player{URL: "http://origin/a"})
	if out.URL != "https://cdn.example.com/a.m3u8" {
		t.Fatalf("failure leaked into chain value: %q", out.URL)
	}
}

func TestRunPlayerStopShortCircuits(t *testing.T) {
	p := emptyPipeline()
	after := &scriptedPlayerHook{
		name: "after", priority: 20, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] { return Success(pl) },
	}
	p.RegisterPlayer(&scriptedPlayerHook{
		name: "stopper", priority: 10, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] {
			pl.URL = "https://final/a.mp4"
			return Stop(pl)
		},
	})
	p.RegisterPlayer(after)

	out := p.RunPlayer(context.Background(), &Player{URL: "http://origin/a"})
	if out.URL != "https://final/a.mp4" {
		t.Fatalf("stop value not kept: %q", out.URL)
	}
	if after.calls != 0 {
		t.Fatalf("hook after stop still ran %d time(s)", after.calls)
	}
}

func TestRunPlayerDisabledAndNonMatchingSkip(t *testing.T) {
	p := emptyPipeline()
	disabled := &scriptedPlayerHook{
		name: "disabled", priority: 10, enabled: false, matches: true,
		run: func(pl *Player) Outcome[Player] { return Success(pl) },
	}
	nomatch := &scriptedPlayerHook{
		name: "nomatch", priority: 20, enabled: true, matches: false,
		run: func(pl *Player) Outcome[Player] { return Success(pl) },
	}
	p.RegisterPlayer(disabled)
	p.RegisterPlayer(nomatch)

	p.RunPlayer(context.Background(), &Player{URL: "https://example.com/a"})
	if disabled.calls != 0 || nomatch.calls != 0 {
		t.Fatalf("skipped hooks executed: disabled=%d nomatch=%d", disabled.calls, nomatch.calls)
	}
	for _, hs := range p.Stats() {
		if hs.Failure != 0 {
			t.Fatalf("skip counted as failure for %s", hs.Name)
		}
	}
}

func TestRunPlayerTimeoutDegradesToPriorValue(t *testing.T) {
	p := emptyPipeline()
	p.timeout = 30 * time.Millisecond
	p.RegisterPlayer(&scriptedPlayerHook{
		name: "stuck", priority: 10, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] {
			time.Sleep(500 * time.Millisecond)
			pl.URL = "late"
			return Success(pl)
		},
	})

	out := p.RunPlayer(context.Background(), &Player{URL: "https://example.com/a.mp4"})
	if out.URL != "https://example.com/a.mp4" {
		t.Fatalf("timed-out hook mutated chain value: %q", out.URL)
	}
}

func TestRunPlayerPanicIsFailure(t *testing.T) {
	p := emptyPipeline()
	p.RegisterPlayer(&scriptedPlayerHook{
		name: "panicky", priority: 10, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] { panic("boom") },
	})

	out := p.RunPlayer(context.Background(), &Player{URL: "https://example.com/a.mp4"})
	if out.URL != "https://example.com/a.mp4" {
		t.Fatalf("panic mutated chain value: %q", out.URL)
	}
	stats := p.Stats()
	if len(stats) != 1 || stats[0].Failure != 1 {
		t.Fatalf("panic not counted as failure: %+v", stats)
	}
}

func TestHookGetsOwnClone(t *testing.T) {
	p := emptyPipeline()
	original := &Player{URL: "https://example.com/a", Headers: map[string]string{"X": "1"}}
	p.RegisterPlayer(&scriptedPlayerHook{
		name: "mutator", priority: 10, enabled: true, matches: true,
		run: func(pl *Player) Outcome[Player] {
			pl.Headers["X"] = "2"
			return Fail[Player](errors.New("late failure after mutation"))
		},
	})

	p.RunPlayer(context.Background(), original)
	if original.Headers["X"] != "1" {
		t.Fatalf("failed hook mutated the caller's value")
	}
}
