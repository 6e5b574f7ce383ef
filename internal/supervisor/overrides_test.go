package supervisor

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadOverridesMissingFileReturnsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	o, err := loadOverrides(path)
	if err != nil {
		t.Fatalf("loadOverrides returned error: %v", err)
	}
	if len(o.ClassesFilter) != 0 {
		t.Fatalf("expected empty overrides, got %+v", o)
	}
}

func TestSaveThenLoadOverridesRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	want := Overrides{ClassesFilter: []string{"person", "car"}}

	if err := saveOverrides(path, want); err != nil {
		t.Fatalf("saveOverrides: %v", err)
	}
	got, err := loadOverrides(path)
	if err != nil {
		t.Fatalf("loadOverrides: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSaveOverridesLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	if err := saveOverrides(path, Overrides{ClassesFilter: []string{"dog"}}); err != nil {
		t.Fatalf("saveOverrides: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 || entries[0] != path {
		t.Fatalf("expected only the target file to remain, got %v", entries)
	}
}

func TestValidateClassesRejectsUnknown(t *testing.T) {
	catalog := []string{"person", "car", "dog"}
	if err := validateClasses([]string{"person", "dog"}, catalog); err != nil {
		t.Fatalf("expected no error for known classes, got %v", err)
	}
	if err := validateClasses([]string{"person", "spaceship"}, catalog); err == nil {
		t.Fatal("expected error for unknown class")
	}
}
