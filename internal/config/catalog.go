package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the static room and approver list loaded at startup.
type Catalog struct {
	Rooms     []CatalogRoom `yaml:"rooms"`
	Approvers []string      `yaml:"approvers"`
}

// CatalogRoom is one bookable room.
type CatalogRoom struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Capacity    *int   `yaml:"capacity"`
}

// LoadCatalog reads the YAML catalog at path. An empty path yields an empty
// catalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document. Unknown keys are
// rejected so typos do not silently drop rooms.
func ParseCatalog(data []byte) (Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	var problems []string
	seen := make(map[string]struct{}, len(cat.Rooms))
	for i, room := range cat.Rooms {
		room.ID = strings.TrimSpace(room.ID)
		room.Name = strings.TrimSpace(room.Name)
		switch {
		case room.ID == "":
			problems = append(problems, fmt.Sprintf("rooms[%d]: id is required", i))
		case room.Name == "":
			problems = append(problems, fmt.Sprintf("rooms[%d]: name is required", i))
		case room.Capacity != nil && *room.Capacity <= 0:
			problems = append(problems, fmt.Sprintf("rooms[%d]: capacity must be positive", i))
		}
		if _, dup := seen[room.ID]; dup && room.ID != "" {
			problems = append(problems, fmt.Sprintf("rooms[%d]: duplicate id %q", i, room.ID))
		}
		seen[room.ID] = struct{}{}
		cat.Rooms[i] = room
	}

	approvers := cat.Approvers[:0]
	for _, name := range cat.Approvers {
		if name = strings.TrimSpace(name); name != "" {
			approvers = append(approvers, name)
		}
	}
	cat.Approvers = approvers

	if len(problems) > 0 {
		return Catalog{}, fmt.Errorf("invalid catalog: %s", strings.Join(problems, "; "))
	}
	return cat, nil
}
