package database

import (
	"path/filepath"
	"testing"
	"time"

	"delta-trader/models"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestArchiveAndRetrievePosition(t *testing.T) {
	storage := newTestStorage(t)

	closedAt := time.Now()
	pos := &models.DBPosition{
		PositionID:       "pos-1",
		UnderlyingSymbol: "SPY",
		ContractSymbol:   "SPY250703C00500000",
		Direction:        "bullish",
		EntryPrice:       5.0,
		Contracts:        4,
		PnL:              800,
		Status:           "CLOSED",
		ClosedAt:         &closedAt,
	}
	if err := storage.ArchivePosition(pos); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	got, err := storage.GetArchivedPosition("pos-1")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if got.UnderlyingSymbol != "SPY" || got.PnL != 800 {
		t.Errorf("retrieved %s/%g, want SPY/800", got.UnderlyingSymbol, got.PnL)
	}

	if _, err := storage.GetArchivedPosition("missing"); err == nil {
		t.Error("expected error for missing position")
	}
}

func TestGetArchivedPositionsByStatus(t *testing.T) {
	storage := newTestStorage(t)

	for _, p := range []*models.DBPosition{
		{PositionID: "closed-1", Status: "CLOSED"},
		{PositionID: "closed-2", Status: "CLOSED"},
		{PositionID: "expired-1", Status: "EXPIRED"},
	} {
		if err := storage.ArchivePosition(p); err != nil {
			t.Fatalf("archive failed: %v", err)
		}
	}

	closed, err := storage.GetArchivedPositions("CLOSED")
	if err != nil {
		t.Fatalf("filtered query failed: %v", err)
	}
	if len(closed) != 2 {
		t.Errorf("closed positions = %d, want 2", len(closed))
	}

	all, err := storage.GetArchivedPositions("")
	if err != nil {
		t.Fatalf("unfiltered query failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all positions = %d, want 3", len(all))
	}
}

func TestExitEvaluationHistory(t *testing.T) {
	storage := newTestStorage(t)

	base := time.Now().Add(-time.Hour)
	for i, exitType := range []string{"PROFIT_TARGET_1", "PROFIT_TARGET_2"} {
		err := storage.SaveExitEvaluation(&models.DBExitEvaluation{
			PositionID:  "pos-1",
			ExitType:    exitType,
			Urgency:     "MEDIUM",
			EvaluatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	evals, err := storage.GetExitEvaluations("pos-1")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("evaluations = %d, want 2", len(evals))
	}
	if evals[0].ExitType != "PROFIT_TARGET_1" {
		t.Errorf("first evaluation = %s, want oldest first", evals[0].ExitType)
	}
}

func TestCleanupOldData(t *testing.T) {
	storage := newTestStorage(t)

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	for _, raisedAt := range []time.Time{old, recent} {
		if err := storage.SaveAlert(&models.DBAlert{
			PositionID: "pos-1",
			AlertType:  "DELTA_CHANGE",
			Severity:   "MEDIUM",
			RaisedAt:   raisedAt,
		}); err != nil {
			t.Fatalf("save alert failed: %v", err)
		}
	}
	if err := storage.SaveExitEvaluation(&models.DBExitEvaluation{
		PositionID:  "pos-1",
		ExitType:    "DTE_EXIT",
		EvaluatedAt: old,
	}); err != nil {
		t.Fatalf("save evaluation failed: %v", err)
	}

	if err := storage.CleanupOldData(time.Now().Add(-24 * time.Hour)); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	evals, err := storage.GetExitEvaluations("pos-1")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(evals) != 0 {
		t.Errorf("old evaluations remaining = %d, want 0", len(evals))
	}
}
