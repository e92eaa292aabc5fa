// Package catalog reads the list of service centers from a YAML file.
//
//	centers:
//	  - id: C1
//	    name: City Hospital
//	    code: CH
//	    type: hospital
//	    departments: [OPD, Lab]
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hackgods/govease-queue/internal/token"
)

type File struct {
	Centers []token.Center `yaml:"centers"`
}

// Load reads and checks a catalog file.
func Load(path string) ([]token.Center, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a catalog. Unknown keys are rejected so typos surface early.
func Parse(r io.Reader) ([]token.Center, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := check(f.Centers); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return f.Centers, nil
}

func check(centers []token.Center) error {
	if len(centers) == 0 {
		return errors.New("no centers")
	}
	seen := make(map[string]bool, len(centers))
	for i, c := range centers {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return fmt.Errorf("center %d: id is required", i)
		}
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("center %s: name is required", id)
		}
		if seen[id] {
			return fmt.Errorf("center %s: duplicate id", id)
		}
		seen[id] = true
	}
	return nil
}

type Upserter interface {
	UpsertCenter(ctx context.Context, c token.Center) (*token.Center, error)
}

// Import upserts every center and returns how many were written.
func Import(ctx context.Context, dst Upserter, centers []token.Center) (int, error) {
	for i, c := range centers {
		if _, err := dst.UpsertCenter(ctx, c); err != nil {
			return i, fmt.Errorf("import center %s: %w", c.ID, err)
		}
	}
	return len(centers), nil
}
