package gc

import (
	"context"
	"testing"
)

// fakeMHStore is an in-memory MHStore for mhregistry tests.
type fakeMHStore struct {
	all []MediaHandler
}

func (f *fakeMHStore) Upsert(_ context.Context, mh MediaHandler) error {
	for i, existing := range f.all {
		if existing.ID == mh.ID {
			f.all[i] = mh
			return nil
		}
	}
	f.all = append(f.all, mh)
	return nil
}

func (f *fakeMHStore) ByID(_ context.Context, id string) (MediaHandler, error) {
	for _, mh := range f.all {
		if mh.ID == id {
			return mh, nil
		}
	}
	return MediaHandler{}, ErrNotFound
}

func (f *fakeMHStore) Candidates(_ context.Context, region string) ([]MediaHandler, error) {
	var out []MediaHandler
	for _, mh := range f.all {
		if mh.Region != region {
			continue
		}
		if mh.HealthStatus != HealthHealthy && mh.HealthStatus != HealthDegraded {
			continue
		}
		out = append(out, mh)
	}
	return out, nil
}

func TestMHRegistrySelectReturnsNoneAvailableWhenEmpty(t *testing.T) {
	registry := NewMHRegistry(&fakeMHStore{})

	result, err := registry.Select(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if result.Success {
		t.Fatal("expected Success=false with no candidates")
	}
	if result.Reason != "none_available" {
		t.Fatalf("reason = %q, want none_available", result.Reason)
	}
}

func TestMHRegistrySelectPicksSinglePrimaryWithoutBackup(t *testing.T) {
	store := &fakeMHStore{all: []MediaHandler{
		{ID: "mh-1", Region: "us-east-1", HealthStatus: HealthHealthy, Capacity: 100, LoadScore: 10},
	}}
	registry := NewMHRegistry(store)

	result, err := registry.Select(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !result.Success || result.Primary == nil {
		t.Fatal("expected a successful selection with a primary")
	}
	if result.Primary.ID != "mh-1" {
		t.Fatalf("primary = %q, want mh-1", result.Primary.ID)
	}
	if result.Backup != nil {
		t.Fatal("expected no backup with a single candidate")
	}
}

func TestMHRegistrySelectPicksDistinctPrimaryAndBackup(t *testing.T) {
	store := &fakeMHStore{all: []MediaHandler{
		{ID: "mh-1", Region: "us-east-1", HealthStatus: HealthHealthy, Capacity: 100, LoadScore: 10},
		{ID: "mh-2", Region: "us-east-1", HealthStatus: HealthHealthy, Capacity: 100, LoadScore: 10},
	}}
	registry := NewMHRegistry(store)

	for i := 0; i < 20; i++ {
		result, err := registry.Select(context.Background(), "us-east-1")
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if !result.Success || result.Primary == nil || result.Backup == nil {
			t.Fatal("expected both a primary and a backup")
		}
		if result.Primary.ID == result.Backup.ID {
			t.Fatal("primary and backup must be distinct")
		}
	}
}

func TestMHRegistrySelectOnlyConsidersRequestedRegion(t *testing.T) {
	store := &fakeMHStore{all: []MediaHandler{
		{ID: "mh-1", Region: "eu-west-1", HealthStatus: HealthHealthy, Capacity: 100, LoadScore: 10},
	}}
	registry := NewMHRegistry(store)

	result, err := registry.Select(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if result.Success {
		t.Fatal("expected no candidates in an unrelated region")
	}
}
