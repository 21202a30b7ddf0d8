// Package storage persists the subscriber set.
//
// Every backend stores the whole set and rewrites it wholesale on Save:
//   - "file":   a single JSON array of identifiers (atomic tmp+rename write)
//   - "sqlite": one table, replaced inside a transaction
//   - "redis":  one list key, replaced inside MULTI/EXEC
//
// Rewriting the full set is fine for small subscriber counts and is the
// known scalability ceiling of this layer.
package storage
