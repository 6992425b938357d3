// Package booking implements the conversational appointment booking flow.
//
// # Steps
//
//	SelectVehicle → SelectService → SelectStation → SelectStaff →
//	SelectDate → SelectTime → AddNotes → Confirm → Submitted
//
// Cancelled and Failed are the other terminal outcomes. Each step has a
// prompt and an input handler registered in the Machine's step table. A
// handler either re-prompts (invalid input, step unchanged) or stores its own
// selection field and names the next step.
//
// Control words work at every step: "back" returns to the previous step and
// keeps every selection, "cancel" discards the dialogue. At a step whose field
// is already set, "keep" moves on without changing it.
//
// # Remote calls
//
// Start resolves credentials, then loads vehicles, services and stations in
// parallel. A conversation without credentials or without vehicles never gets
// a session. The staff roster is loaded when SelectStaff is entered and
// filtered to the chosen station; an empty roster keeps the dialogue on
// SelectStation. Leaving Confirm re-validates credentials before creating the
// appointment. Creation is attempted once.
//
// # Errors
//
// Anything other than invalid input goes through one error path: the user
// gets UserMessage(err), the session is removed, and the menu follows after
// Options.ErrorDelay.
//
// Machine is safe for concurrent use across conversations. Calls for the same
// conversation must be serialized by the caller.
package booking
