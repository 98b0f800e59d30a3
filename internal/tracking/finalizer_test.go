package tracking

import (
	"context"
	"testing"
)

func completeSnapshot() *ConfigurationSnapshot {
	return &ConfigurationSnapshot{
		Selections: map[string]SelectionValue{
			"nest":             {Value: "nest80", Price: 155500},
			"gebaeudehuelle":   {Value: "trapezblech"},
			"innenverkleidung": {Value: "kiefer"},
			"fussboden":        {Value: "parkett"},
		},
		TotalPrice: 171500,
	}
}

func TestFinalizer_CompleteConfiguration(t *testing.T) {
	repo := newFakeRepository()
	cache := newFakeCache()
	finalizer := NewFinalizer(cache, repo, StoreTimeouts{})
	complete := RequireCategories(MandatoryCategories...)

	repo.UpsertSession(context.Background(), "s1", ClientInfo{}, nil)

	status, err := finalizer.Finalize(context.Background(), "s1", completeSnapshot(), complete)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if status != SessionStatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", status)
	}

	session, _ := repo.GetSession(context.Background(), "s1")
	if session.EndedAt == nil {
		t.Error("Expected ended_at to be set")
	}
	if session.Configuration == nil || session.Configuration.TotalPrice != 171500 {
		t.Errorf("Expected persisted snapshot, got %+v", session.Configuration)
	}
}

func TestFinalizer_IncompleteConfiguration(t *testing.T) {
	repo := newFakeRepository()
	finalizer := NewFinalizer(newFakeCache(), repo, StoreTimeouts{})
	complete := RequireCategories(MandatoryCategories...)

	repo.UpsertSession(context.Background(), "s1", ClientInfo{}, nil)

	snapshot := &ConfigurationSnapshot{
		Selections: map[string]SelectionValue{
			"nest": {Value: "nest80"},
		},
		TotalPrice: 155500,
	}

	status, err := finalizer.Finalize(context.Background(), "s1", snapshot, complete)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if status != SessionStatusAbandoned {
		t.Errorf("Expected ABANDONED for incomplete configuration, got %s", status)
	}

	session, _ := repo.GetSession(context.Background(), "s1")
	if session.EndedAt == nil {
		t.Error("Expected ended_at to be set for abandoned session")
	}
}

func TestFinalizer_NilSnapshotAbandons(t *testing.T) {
	repo := newFakeRepository()
	finalizer := NewFinalizer(newFakeCache(), repo, StoreTimeouts{})

	repo.UpsertSession(context.Background(), "s1", ClientInfo{}, nil)

	status, err := finalizer.Finalize(context.Background(), "s1", nil, nil)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if status != SessionStatusAbandoned {
		t.Errorf("Expected ABANDONED, got %s", status)
	}
}

func TestFinalizer_Idempotent(t *testing.T) {
	repo := newFakeRepository()
	finalizer := NewFinalizer(newFakeCache(), repo, StoreTimeouts{})
	complete := RequireCategories(MandatoryCategories...)

	repo.UpsertSession(context.Background(), "s1", ClientInfo{}, nil)

	first, err := finalizer.Finalize(context.Background(), "s1", completeSnapshot(), complete)
	if err != nil {
		t.Fatalf("First finalize failed: %v", err)
	}
	if first != SessionStatusCompleted {
		t.Fatalf("Expected COMPLETED, got %s", first)
	}

	// A second finalize, even with nothing selected, must not flip the status
	second, err := finalizer.Finalize(context.Background(), "s1", nil, complete)
	if err != nil {
		t.Fatalf("Second finalize failed: %v", err)
	}
	if second != SessionStatusCompleted {
		t.Errorf("Expected stored COMPLETED status on repeat finalize, got %s", second)
	}

	session, _ := repo.GetSession(context.Background(), "s1")
	if session.Status != SessionStatusCompleted {
		t.Errorf("Stored status corrupted: %s", session.Status)
	}
}

func TestFinalizer_EvictsCacheUnconditionally(t *testing.T) {
	repo := newFakeRepository()
	repo.failFinalize = true
	cache := newFakeCache()
	finalizer := NewFinalizer(cache, repo, StoreTimeouts{})

	repo.UpsertSession(context.Background(), "s1", ClientInfo{}, nil)
	cache.SetSnapshot(context.Background(), &Snapshot{
		SessionID:  "s1",
		Status:     SessionStatusActive,
		Selections: map[string]string{"nest": "nest80"},
	})

	_, err := finalizer.Finalize(context.Background(), "s1", nil, nil)
	if err == nil {
		t.Fatal("Expected error from failing durable store")
	}
	if cache.has("s1") {
		t.Error("Expected snapshot evicted even when the durable write fails")
	}
}

func TestFinalizer_CreatesUnknownSession(t *testing.T) {
	repo := newFakeRepository()
	finalizer := NewFinalizer(newFakeCache(), repo, StoreTimeouts{})

	status, err := finalizer.Finalize(context.Background(), "never-seen", nil, nil)
	if err != nil {
		t.Fatalf("Finalize of unknown session failed: %v", err)
	}
	if status != SessionStatusAbandoned {
		t.Errorf("Expected ABANDONED, got %s", status)
	}
	if _, err := repo.GetSession(context.Background(), "never-seen"); err != nil {
		t.Errorf("Expected session row for unknown session: %v", err)
	}
}

func TestFinalizer_EmptySessionID(t *testing.T) {
	finalizer := NewFinalizer(newFakeCache(), newFakeRepository(), StoreTimeouts{})

	_, err := finalizer.Finalize(context.Background(), "", nil, nil)
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestRequireCategories(t *testing.T) {
	complete := RequireCategories("nest", "fussboden")

	if complete(nil) {
		t.Error("Nil snapshot must not be complete")
	}
	if complete(&ConfigurationSnapshot{}) {
		t.Error("Empty snapshot must not be complete")
	}
	if complete(&ConfigurationSnapshot{Selections: map[string]SelectionValue{
		"nest": {Value: "nest80"},
	}}) {
		t.Error("Partial snapshot must not be complete")
	}
	if !complete(&ConfigurationSnapshot{Selections: map[string]SelectionValue{
		"nest":      {Value: "nest80"},
		"fussboden": {Value: "parkett"},
	}}) {
		t.Error("Snapshot with all required categories must be complete")
	}
	if complete(&ConfigurationSnapshot{Selections: map[string]SelectionValue{
		"nest":      {Value: ""},
		"fussboden": {Value: "parkett"},
	}}) {
		t.Error("Empty selection value must not count")
	}
}
