package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
)

func TestNewReranker(t *testing.T) {
	r := NewReranker(nil)
	if r.config.BaseWeight != 0.4 || r.config.OverlapWeight != 0.3 ||
		r.config.RecencyWeight != 0.2 || r.config.CategoryWeight != 0.1 {
		t.Errorf("default weights = %+v", r.config)
	}

	custom := NewReranker(&Config{BaseWeight: 1})
	if custom.config.BaseWeight != 1 || custom.config.OverlapWeight != 0 {
		t.Errorf("explicit weights should be kept, got %+v", custom.config)
	}
	if custom.config.RecencyHalfLife != 7*24*time.Hour {
		t.Errorf("half-life default = %v", custom.config.RecencyHalfLife)
	}
}

func TestReranker_Rerank(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewReranker(nil).WithClock(func() time.Time { return now })

	stale := node("entity:zeta", "Zeta", now.Add(-30*24*time.Hour))
	fresh := node("entity:auth", "AuthService", now)
	fresh.EntityType = models.KnownEntityType(models.EntityService)

	results := []*models.RetrieveResult{
		{ID: stale.ID, Label: stale.Label, Score: 0.9, BaseScore: 0.9, Rank: 1, Node: stale},
		{ID: fresh.ID, Label: fresh.Label, Category: "service", Score: 0.6, BaseScore: 0.6, Rank: 2, Node: fresh},
	}

	out := r.Rerank("auth service", []string{"Service"}, results)
	if out[0].ID != "entity:auth" || out[0].Rank != 1 || out[1].Rank != 2 {
		t.Fatalf("order after rerank: %s, %s", out[0].ID, out[1].ID)
	}

	// 0.6*0.4 + 1*0.3 + 1*0.2 + 1*0.1
	if math.Abs(out[0].Score-0.84) > 1e-9 {
		t.Errorf("fresh score = %v, want 0.84", out[0].Score)
	}
	wantStale := 0.9*0.4 + Decay(30*24*time.Hour, 7*24*time.Hour)*0.2
	if math.Abs(out[1].Score-wantStale) > 1e-9 {
		t.Errorf("stale score = %v, want %v", out[1].Score, wantStale)
	}
	if out[0].BaseScore != 0.6 || out[1].BaseScore != 0.9 {
		t.Error("BaseScore must keep the fused score")
	}
}

func TestReranker_Explain(t *testing.T) {
	now := time.Now()
	r := NewReranker(nil).WithClock(func() time.Time { return now })
	n := node("chunk:1", "Runbook #1", now)
	res := &models.RetrieveResult{ID: n.ID, Label: n.Label, BaseScore: 0.5, Score: 0.5, Node: n}

	b := r.Explain("runbook deploy", nil, res)
	if b.Overlap != 0.5 || b.Recency != 1 || b.Category != 0 {
		t.Errorf("breakdown = %+v", b)
	}
	if want := 0.5*0.4 + 0.5*0.3 + 0.2; math.Abs(b.FinalScore-want) > 1e-9 {
		t.Errorf("FinalScore = %v, want %v", b.FinalScore, want)
	}
	if res.Score != 0.5 {
		t.Error("Explain must not modify the result")
	}
}
