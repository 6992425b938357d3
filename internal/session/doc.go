// Package session holds in-progress booking dialogues.
//
// A FlowSession is keyed by conversation id; there is at most one per
// conversation. Store is the abstraction the booking machine depends on:
//
//   - MemoryStore: process-local map, sessions lost on restart
//   - RedisStore: JSON values in Redis with a native TTL, shared across replicas
//
// Both stores treat a session untouched for longer than their TTL as absent
// and return ErrNotFound for it. Get returns a copy; callers mutate the copy
// and write it back with Set.
package session
