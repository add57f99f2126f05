// Package source abstracts the live application data the control plane
// snapshots and restores: relational tables, content files and config blobs.
package source

import (
	"context"
	"fmt"

	"github.com/polarfoxDev/ballast/internal/model"
)

// Unit is one backupable piece of the application.
type Unit struct {
	Type model.ItemType
	Name string
}

// Source enumerates, dumps and restores units. Table dumps are JSON Lines
// (one object per record); file and config dumps are raw bytes with a
// record count of -1.
type Source interface {
	// Units returns the full universe of units for the given item types.
	Units(ctx context.Context, types []model.ItemType) ([]Unit, error)

	// Dump serializes one unit. recordCount is -1 when the unit has no
	// record semantics (files, config blobs).
	Dump(ctx context.Context, unit Unit) (content []byte, recordCount int, err error)

	// Restore writes a previously dumped payload back into live data.
	Restore(ctx context.Context, unit Unit, content []byte) error
}

// Composite merges several sources into one. Units are concatenated;
// Dump/Restore are routed to the first source that owns the unit's type.
type Composite struct {
	sources []Source
	byType  map[model.ItemType]Source
}

func NewComposite(sources ...Source) *Composite {
	return &Composite{sources: sources, byType: make(map[model.ItemType]Source)}
}

// Route assigns an item type to a source. Types without a route fall back
// to trying each source in order.
func (c *Composite) Route(t model.ItemType, s Source) *Composite {
	c.byType[t] = s
	return c
}

func (c *Composite) Units(ctx context.Context, types []model.ItemType) ([]Unit, error) {
	var all []Unit
	for _, s := range c.sources {
		units, err := s.Units(ctx, types)
		if err != nil {
			return nil, err
		}
		all = append(all, units...)
	}
	return all, nil
}

func (c *Composite) owner(u Unit) (Source, error) {
	if s, ok := c.byType[u.Type]; ok {
		return s, nil
	}
	if len(c.sources) == 1 {
		return c.sources[0], nil
	}
	return nil, fmt.Errorf("no source routed for item type %s", u.Type)
}

func (c *Composite) Dump(ctx context.Context, u Unit) ([]byte, int, error) {
	s, err := c.owner(u)
	if err != nil {
		return nil, 0, err
	}
	return s.Dump(ctx, u)
}

func (c *Composite) Restore(ctx context.Context, u Unit, content []byte) error {
	s, err := c.owner(u)
	if err != nil {
		return err
	}
	return s.Restore(ctx, u, content)
}
