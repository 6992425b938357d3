// Package dedupe suppresses repeated delivery of the same inbound chat event.
//
// Chat transports may redeliver an event after a reconnect or a sync retry.
// Window remembers event ids for a TTL and reports repeats, so the dispatcher
// handles each event once. Memory is bounded by a maximum size; the oldest
// ids are evicted first.
package dedupe
