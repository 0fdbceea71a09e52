package gtfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// The bundle lives as four JSON documents produced by cmd/import-gtfs.
const (
	routesFile   = "routes.json"
	stopsFile    = "stops.json"
	shapesFile   = "shapes.json"
	scheduleFile = "schedule.json"
)

// LoadBundle reads the four-document bundle from dir.
func LoadBundle(dir string) (*Bundle, error) {
	b := &Bundle{}

	if err := readJSON(filepath.Join(dir, routesFile), &b.Routes); err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	if err := readJSON(filepath.Join(dir, stopsFile), &b.Stops); err != nil {
		return nil, fmt.Errorf("load stops: %w", err)
	}
	if err := readJSON(filepath.Join(dir, shapesFile), &b.Shapes); err != nil {
		return nil, fmt.Errorf("load shapes: %w", err)
	}
	if err := readJSON(filepath.Join(dir, scheduleFile), &b.Schedule); err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	if len(b.Routes) == 0 {
		return nil, fmt.Errorf("bundle in %s contains no routes", dir)
	}
	return b, nil
}

// WriteBundle writes the bundle back out as the four JSON documents.
// Used by the import tool.
func WriteBundle(dir string, b *Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := []struct {
		name string
		v    any
	}{
		{routesFile, b.Routes},
		{stopsFile, b.Stops},
		{shapesFile, b.Shapes},
		{scheduleFile, b.Schedule},
	}
	for _, f := range files {
		data, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", f.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
