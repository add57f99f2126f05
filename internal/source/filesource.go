package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/polarfoxDev/ballast/internal/model"
)

// FileSource exposes a directory tree as backupable units of a single item
// type, typically uploaded content (file) or configuration blobs (config).
// Unit names are slash-separated paths relative to the root.
type FileSource struct {
	root     string
	itemType model.ItemType
}

func NewFileSource(root string, itemType model.ItemType) *FileSource {
	return &FileSource{root: root, itemType: itemType}
}

func (s *FileSource) Units(ctx context.Context, types []model.ItemType) ([]Unit, error) {
	wanted := false
	for _, t := range types {
		if t == s.itemType {
			wanted = true
		}
	}
	if !wanted {
		return nil, nil
	}

	var units []Unit
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		units = append(units, Unit{Type: s.itemType, Name: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, nil
}

func (s *FileSource) Dump(ctx context.Context, u Unit) ([]byte, int, error) {
	path, err := s.path(u.Name)
	if err != nil {
		return nil, 0, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", u.Name, err)
	}
	return content, -1, nil
}

func (s *FileSource) Restore(ctx context.Context, u Unit, content []byte) error {
	path, err := s.path(u.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", u.Name, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", u.Name, err)
	}
	return nil
}

func (s *FileSource) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid unit name %q", name)
	}
	return filepath.Join(s.root, clean), nil
}
