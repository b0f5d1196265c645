package device

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hap/migrations"
)

// setupTestRepo opens a migrated SQLite database in a temp directory.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestShouldRefreshMapping(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	desc := testDescriptor()

	if !r.ShouldRefreshMapping(desc) {
		t.Error("unmapped device should need mapping")
	}

	if err := r.SetMapping(ctx, MappingInfo{
		DeviceID:     desc.ID,
		PrimaryRule:  "light",
		Class:        desc.Class,
		Capabilities: []string{"dim", "measure_temperature.zone1", "onoff"},
	}); err != nil {
		t.Fatalf("SetMapping() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Descriptor)
		want   bool
	}{
		{"unchanged, reordered capabilities", func(*Descriptor) {}, false},
		{"name change only", func(d *Descriptor) { d.Name = "Other" }, false},
		{"class changed", func(d *Descriptor) { d.Class = "socket" }, true},
		{"virtual class added", func(d *Descriptor) { d.VirtualClass = "light" }, true},
		{"capability added", func(d *Descriptor) { d.Capabilities = append(d.Capabilities, "alarm_battery") }, true},
		{"capability removed", func(d *Descriptor) { d.Capabilities = d.Capabilities[:1] }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor()
			tt.mutate(&d)
			if got := r.ShouldRefreshMapping(d); got != tt.want {
				t.Errorf("ShouldRefreshMapping() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := r.ClearMapping(ctx, desc.ID); err != nil {
		t.Fatalf("ClearMapping() error = %v", err)
	}
	if !r.ShouldRefreshMapping(desc) {
		t.Error("cleared mapping should need mapping")
	}
}

func TestErrorCounters(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	for i := 1; i <= 5; i++ {
		n, err := r.RecordError(ctx, "lamp-1", "read")
		if err != nil {
			t.Fatalf("RecordError() error = %v", err)
		}
		if n != i {
			t.Errorf("RecordError() = %d, want %d", n, i)
		}
		if got := r.HasTooManyErrors("lamp-1", "read", 0); got != (i >= DefaultErrorThreshold) {
			t.Errorf("after %d errors HasTooManyErrors() = %v", i, got)
		}
	}
	if _, err := r.RecordError(ctx, "lamp-1", "write"); err != nil {
		t.Fatalf("RecordError() error = %v", err)
	}
	if r.HasTooManyErrors("lamp-1", "read", 6) {
		t.Error("custom threshold not applied")
	}

	if err := r.ResetErrors(ctx, "lamp-1", "read"); err != nil {
		t.Fatalf("ResetErrors() error = %v", err)
	}
	if got := r.Errors("lamp-1"); !reflect.DeepEqual(got, map[string]int{"write": 1}) {
		t.Errorf("Errors() = %v, want only write", got)
	}

	if err := r.ResetErrors(ctx, "lamp-1", ""); err != nil {
		t.Fatalf("ResetErrors(all) error = %v", err)
	}
	if r.ErrorCount("lamp-1", "write") != 0 {
		t.Error("ResetErrors(all) left counters")
	}
}

func TestRegistry_RegisterAndRemove(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	if _, err := r.RegisterDevice(ctx, Descriptor{ID: "x"}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("RegisterDevice(no class) error = %v", err)
	}

	s, err := r.RegisterDevice(ctx, testDescriptor())
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if !s.LastUpdated.Equal(at) || s.Zone != "Kitchen" {
		t.Errorf("snapshot = %+v", s)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	if err := r.RemoveDevice(ctx, "lamp-1"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if err := r.RemoveDevice(ctx, "lamp-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second RemoveDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_PersistsThroughRepository(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)

	r := NewRegistry(repo)
	if _, err := r.RegisterDevice(ctx, testDescriptor()); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	mappedAt := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	info := MappingInfo{
		DeviceID:     "lamp-1",
		PrimaryRule:  "light",
		Rules:        []string{"light", "temperature-sensor"},
		Category:     "lightbulb",
		Services:     []string{"43", "8A/zone1"},
		Percentage:   66.5,
		Class:        "light",
		Capabilities: testDescriptor().Capabilities,
		MappedAt:     mappedAt,
	}
	if err := r.SetMapping(ctx, info); err != nil {
		t.Fatalf("SetMapping() error = %v", err)
	}
	if _, err := r.RecordError(ctx, "lamp-1", "unmappable"); err != nil {
		t.Fatalf("RecordError() error = %v", err)
	}

	reloaded := NewRegistry(repo)
	if err := reloaded.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	s, ok := reloaded.Snapshot("lamp-1")
	if !ok || s.Class != "light" || !reflect.DeepEqual(s.Capabilities, testDescriptor().Capabilities) {
		t.Errorf("reloaded snapshot = %+v, %v", s, ok)
	}
	m, ok := reloaded.Mapping("lamp-1")
	if !ok || !reflect.DeepEqual(m.Rules, info.Rules) || m.Percentage != 66.5 || !m.MappedAt.Equal(mappedAt) {
		t.Errorf("reloaded mapping = %+v, %v", m, ok)
	}
	if reloaded.ShouldRefreshMapping(testDescriptor()) {
		t.Error("reloaded mapping should be current")
	}
	if reloaded.ErrorCount("lamp-1", "unmappable") != 1 {
		t.Errorf("reloaded error count = %d, want 1", reloaded.ErrorCount("lamp-1", "unmappable"))
	}

	if err := reloaded.RemoveDevice(ctx, "lamp-1"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	snapshots, err := repo.ListSnapshots(ctx)
	if err != nil || len(snapshots) != 0 {
		t.Errorf("ListSnapshots() after remove = %v, %v", snapshots, err)
	}
	counters, err := repo.ListErrors(ctx)
	if err != nil || len(counters) != 0 {
		t.Errorf("ListErrors() after remove = %v, %v", counters, err)
	}
}

func TestSQLiteRepository_DeleteMissing(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.DeleteSnapshot(context.Background(), "nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeleteSnapshot() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.DeleteMapping(context.Background(), "nope"); err != nil {
		t.Errorf("DeleteMapping() error = %v, want nil", err)
	}
}
