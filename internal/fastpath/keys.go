package fastpath

import "github.com/google/uuid"

type keyspace struct {
	prefix string
}

func (k keyspace) status(id uuid.UUID) string {
	return k.prefix + "batch:" + id.String()
}

func (k keyspace) crates(id uuid.UUID) string {
	return k.status(id) + ":crates"
}

// crate is the per-marker key for backends without a native hash type.
func (k keyspace) crate(id uuid.UUID, code string) string {
	return k.crates(id) + ":" + code
}
