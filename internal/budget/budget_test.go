package budget

import (
	"sync"
	"testing"

	"github.com/oaguiar/incmatch/internal/llm"
)

func TestLimitGuard_RefusesBeyondLimit(t *testing.T) {
	g := NewLimitGuard(0.10)

	if !g.Allow(0.06) {
		t.Fatal("first call within limit should be allowed")
	}
	if g.Allow(0.06) {
		t.Error("second call exceeding limit should be refused")
	}
	if !g.Allow(0.04) {
		t.Error("call fitting the remainder should be allowed")
	}
}

func TestLimitGuard_RecordAdjustsReservation(t *testing.T) {
	g := NewLimitGuard(0.10)

	if !g.Allow(0.08) {
		t.Fatal("reservation should succeed")
	}
	// Actual cost came in far below the estimate; the freed budget must be
	// available again.
	g.Record(0.08, 0.01)

	if !g.Allow(0.08) {
		t.Error("budget freed by Record should allow another call")
	}
}

func TestLimitGuard_ConcurrentReservations(t *testing.T) {
	// 0.25 is exact in binary, so the arithmetic below has no rounding.
	g := NewLimitGuard(5.0)

	var wg sync.WaitGroup
	allowed := make([]bool, 100)
	for i := range allowed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed[i] = g.Allow(0.25)
		}()
	}
	wg.Wait()

	count := 0
	for _, ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 20 {
		t.Errorf("expected exactly 20 reservations of 0.25 under limit 5.0, got %d", count)
	}
}

func TestUnlimited_AlwaysAllows(t *testing.T) {
	g := &Unlimited{}
	if !g.Allow(1e9) {
		t.Error("unlimited guard refused a call")
	}
	g.Record(0, 0.5)
	if g.Spent() != 0.5 {
		t.Errorf("expected spent 0.5, got %f", g.Spent())
	}
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{PromptPerMTok: 1.0, CompletionPerMTok: 2.0}
	cost := p.Cost(llm.Usage{PromptTokens: 500_000, CompletionTokens: 250_000})
	if cost != 1.0 {
		t.Errorf("expected cost 1.0, got %f", cost)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Errorf("empty text should estimate 1 token, got %d", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 3 {
		t.Errorf("expected 3 tokens for 8 chars, got %d", got)
	}
}
