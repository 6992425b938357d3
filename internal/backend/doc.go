// Package backend is the HTTP client for the garage data API.
//
// # Overview
//
// Client wraps the read endpoints the booking flow depends on (vehicles,
// services, stations, staff), the token introspection endpoint, login, and
// appointment creation. Every request carries the caller's bearer token,
// runs under a per-call timeout, and passes through a shared token-bucket
// limiter.
//
// # Endpoints
//
//	GET  /vehicles?owner=<account>   vehicles registered to an account
//	GET  /services                   service catalog
//	GET  /stations                   service stations
//	GET  /staff                      full staff roster (filtered client-side)
//	GET  /auth/me                    token introspection
//	POST /auth/login                 email/password login
//	POST /appointments               create an appointment
//
// List endpoints may answer with a bare JSON array or an object carrying the
// array under "items", "data" or "results".
//
// # Errors
//
// Non-2xx responses become *APIError carrying the HTTP status. IsAuthRejection
// reports 401/403 responses; anything else (transport errors, timeouts, 5xx)
// is an upstream failure.
//
// # Registry
//
// ResolveBaseURL asks a network registry for the API location when the
// deployment does not pin backend.base_url.
package backend
