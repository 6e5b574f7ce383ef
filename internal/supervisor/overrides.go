package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Overrides is the persisted, operator-settable class filter override
// (spec.md §3, §4.10).
type Overrides struct {
	ClassesFilter []string `json:"classesFilter"`
}

// loadOverrides reads overrides from path, returning a zero-value
// Overrides (no error) if the file does not yet exist.
func loadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return Overrides{}, err
	}
	var o Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return Overrides{}, fmt.Errorf("parse overrides file: %w", err)
	}
	return o, nil
}

// saveOverrides persists o atomically: write to a temp file in the same
// directory, then rename over the target (spec.md §6 "write via
// temp-file+rename").
func saveOverrides(path string, o Overrides) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".overrides-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// validateClasses rejects any class not present in catalog.
func validateClasses(classes, catalog []string) error {
	set := make(map[string]struct{}, len(catalog))
	for _, c := range catalog {
		set[c] = struct{}{}
	}
	for _, c := range classes {
		if _, ok := set[c]; !ok {
			return fmt.Errorf("unknown class %q", c)
		}
	}
	return nil
}
