// Package dispatch routes inbound chat messages.
//
// For each message the Dispatcher:
//
//  1. drops repeats of an already handled event id (dedupe.Window)
//  2. takes the conversation's lock, so one conversation is handled by at
//     most one goroutine while different conversations run in parallel
//  3. hands the text to the booking flow when a dialogue is open
//  4. otherwise matches it against the menu commands
//
// Menu commands: help (also start, menu), book [vehicle-id], status,
// language <tag>, notifications, login <email> <password>, logout, cancel.
package dispatch
