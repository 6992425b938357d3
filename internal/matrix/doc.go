// Package matrix connects the assistant to Matrix rooms.
//
// Each joined room is one conversation. The Bridge syncs with the
// homeserver, filters and orders inbound text messages per room, passes them
// to a Handler, and sends replies as m.text events with an HTML rendering of
// the markdown body. When a member leaves a room the handler is told the
// conversation closed.
package matrix
