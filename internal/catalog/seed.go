package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-portal/internal/service"
)

// SeedFile is the YAML layout of a catalog seed.
type SeedFile struct {
	Records []service.CatalogRecord `yaml:"records"`
}

// ReadSeed parses a catalog seed file.
func ReadSeed(path string) ([]service.CatalogRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return f.Records, nil
}

// Seed loads every record of the YAML file at path and returns how many were written.
func (s *Store) Seed(ctx context.Context, path string) (int, error) {
	recs, err := ReadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := s.Upsert(ctx, recs...); err != nil {
		return 0, err
	}
	s.logger.Info("catalog seeded", "file", path, "records", len(recs))
	return len(recs), nil
}

// LayerFromRecords builds the definition of a layer showing recs. The layer
// bounding box is the union of the records' extents.
func LayerFromRecords(name string, recs ...service.CatalogRecord) service.LayerDefinition {
	if name == "" && len(recs) > 0 {
		name = recs[0].Title
	}
	var all []service.GeographicElement
	for _, r := range recs {
		all = append(all, r.GeographicElements...)
	}
	def := service.LayerDefinition{
		ID:      service.GenerateID(name),
		Name:    name,
		Records: recs,
	}
	if w, s, e, n := envelope(all); w.Valid {
		def.BoundingBox = &service.GeographicElement{Type: "bbox", West: w.Float64, South: s.Float64, East: e.Float64, North: n.Float64}
	}
	return def
}
