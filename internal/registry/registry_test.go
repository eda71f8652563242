package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"exitwatch/internal/models"
)

func newPosition(id, tradeID string) *models.MonitoredPosition {
	req := models.OpenRequest{
		TradeID:     tradeID,
		TokenSymbol: "ETH",
		Side:        models.SideBuy,
		EntryPrice:  decimal.RequireFromString("2400"),
		EntryAmount: decimal.RequireFromString("0.1"),
		TP1:         decimal.RequireFromString("2500"),
		TP2:         decimal.RequireFromString("2600"),
		StopLoss:    decimal.RequireFromString("2350"),
		MaxExitTime: time.Now().Add(time.Hour),
	}
	return models.NewMonitoredPosition(id, req, true, decimal.RequireFromString("0.01"))
}

func TestInsertIdempotent(t *testing.T) {
	r := New()
	p := newPosition("id-1", "trade-1")

	if !r.Insert(p) {
		t.Fatal("first insert should add")
	}
	if r.Insert(p) {
		t.Fatal("second insert should be a no-op")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := New()
	p := newPosition("id-1", "trade-1")
	r.Insert(p)

	got, ok := r.Remove("id-1")
	if !ok || got != p {
		t.Fatal("remove should return the stored position")
	}
	if _, ok := r.Remove("id-1"); ok {
		t.Fatal("second remove should report not present")
	}
	if r.Contains("id-1") {
		t.Fatal("removed position still present")
	}
}

// Exactly one of many concurrent removers may win for a given id; everyone
// else must observe "not present".
func TestRemoveAtomicUnderContention(t *testing.T) {
	r := New()
	const positions = 50
	const removersPerPosition = 8

	for i := 0; i < positions; i++ {
		r.Insert(newPosition(fmt.Sprintf("id-%d", i), fmt.Sprintf("trade-%d", i)))
	}

	wins := make([]int64, positions)
	var wg sync.WaitGroup
	for i := 0; i < positions; i++ {
		for j := 0; j < removersPerPosition; j++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				if _, ok := r.Remove(fmt.Sprintf("id-%d", idx)); ok {
					atomic.AddInt64(&wins[idx], 1)
				}
			}(i)
		}
	}
	wg.Wait()

	for i, w := range wins {
		if w != 1 {
			t.Errorf("position %d: %d winners, want exactly 1", i, w)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after removing everything, want 0", r.Len())
	}
}

func TestFindByTradeID(t *testing.T) {
	r := New()
	r.Insert(newPosition("id-1", "trade-1"))
	r.Insert(newPosition("id-2", "trade-2"))

	p, ok := r.FindByTradeID("trade-2")
	if !ok || p.ID != "id-2" {
		t.Fatalf("FindByTradeID returned %v, %v", p, ok)
	}
	if _, ok := r.FindByTradeID("missing"); ok {
		t.Fatal("unexpected hit for missing trade id")
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	r := New()
	r.Insert(newPosition("id-1", "trade-1"))

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}

	r.Remove("id-1")
	if len(snap) != 1 {
		t.Fatal("snapshot should not shrink after removal")
	}
}

func TestClear(t *testing.T) {
	r := New()
	r.Insert(newPosition("id-1", "trade-1"))
	r.Insert(newPosition("id-2", "trade-2"))

	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", r.Len())
	}
}
