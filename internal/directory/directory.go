// Package directory resolves farm, packhouse and variety identifiers.
package directory

import (
	"context"
	"strings"

	"cratetrail/internal/config"
	"cratetrail/internal/ledger"
)

// Kind selects the directory table an identifier belongs to.
type Kind string

const (
	KindFarm      Kind = "farm"
	KindPackhouse Kind = "packhouse"
	KindVariety   Kind = "variety"
)

// Entry is a resolved directory record.
type Entry struct {
	Kind Kind
	ID   string
	Name string
}

// Directory looks up reference data by identity. Unknown identifiers yield a
// KindNotFound error.
type Directory interface {
	Lookup(ctx context.Context, kind Kind, id string) (Entry, error)
}

// Static serves entries loaded from configuration.
type Static struct {
	entries map[Kind]map[string]string
}

// NewStatic indexes the configured farms, packhouses and varieties.
func NewStatic(cfg config.Directory) *Static {
	s := &Static{entries: map[Kind]map[string]string{}}
	add := func(kind Kind, list []config.DirectoryEntry) {
		m := make(map[string]string, len(list))
		for _, e := range list {
			m[e.ID] = e.Name
		}
		s.entries[kind] = m
	}
	add(KindFarm, cfg.Farms)
	add(KindPackhouse, cfg.Packhouses)
	add(KindVariety, cfg.Varieties)
	return s
}

// Lookup implements Directory.
func (s *Static) Lookup(_ context.Context, kind Kind, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	name, ok := s.entries[kind][id]
	if !ok {
		return Entry{}, ledger.NotFound("directory.lookup", "unknown %s %q", kind, id)
	}
	if name == "" {
		name = id
	}
	return Entry{Kind: kind, ID: id, Name: name}, nil
}

// Permissive accepts any identifier and uses names from an optional backing
// directory when it knows them.
type Permissive struct {
	Names Directory
}

// Lookup implements Directory.
func (p Permissive) Lookup(ctx context.Context, kind Kind, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if p.Names != nil {
		if entry, err := p.Names.Lookup(ctx, kind, id); err == nil {
			return entry, nil
		}
	}
	return Entry{Kind: kind, ID: id, Name: id}, nil
}

// FromConfig returns a Static directory in strict mode and a Permissive one
// backed by the configured names otherwise.
func FromConfig(cfg *config.Config) Directory {
	if cfg == nil {
		return Permissive{}
	}
	static := NewStatic(cfg.Directory)
	if cfg.Directory.Strict {
		return static
	}
	return Permissive{Names: static}
}

// Require validates a non-empty identifier against dir. Blank identifiers
// pass; unknown ones become KindValidation errors attributed to op.
func Require(ctx context.Context, dir Directory, kind Kind, id, op string) error {
	if dir == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	if _, err := dir.Lookup(ctx, kind, id); err != nil {
		if ledger.IsKind(err, ledger.KindNotFound) {
			return ledger.Validation(op, "unknown %s %q", kind, strings.TrimSpace(id))
		}
		return err
	}
	return nil
}
