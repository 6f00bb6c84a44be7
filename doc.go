// Package storecache turns any storage.Storage into a read-through,
// write-around cache over a generic byte provider (Ristretto, BigCache,
// Redis, sturdyc or the in-memory provider).
//
// Reads consult the cache first and fall back to storage on a miss; the
// value read from storage is written back. Mutations go to storage and then
// refresh or drop the affected entries. Collection reads (ReadAll,
// ReadAllPaged and their relation counterparts) are served from a snapshot
// plus fixed-size pages that background jobs populate after a miss.
//
// Components:
//   - Provider: byte store with TTL. No multi-key atomicity or clear-all is assumed.
//   - Codec[V]: (de)serializes V <-> []byte.
//   - generation.Store: flush token stamped into every entry. Local by
//     default, Redis to share flushes across processes.
//
// Keys:
//
//	item:<ns>:<id>                          single entity
//	all:<ns>                                collection snapshot
//	page:<ns>:<collection>:<offset>:<limit> collection page
//	childrenOf:<ns>:<relation>:<parentID>   children list
//	parentOf:<ns>:<relation>:<childID>      parent lookup
//
// An entry is served only when it carries the current generation, is
// younger than the absolute TTL and passes the optional EntryPolicy.
// Collection and relation entries also carry the mutation epoch they were
// built under and are dropped once any mutation happened.
package storecache
