// Package auth manages the credentials that link a chat conversation to a
// garage backend account.
//
// # Credential Lifecycle
//
// A conversation is linked after a successful login: the backend account id
// and bearer token are stored through store.IdentityStore together with an
// expiry. The expiry comes from the caller, or from the token's own "exp"
// claim when the token is a JWT (JWTExpiryExtractor), or defaults to one hour.
//
// RequireCredentials is the gate used before a booking starts and again
// before it is submitted:
//
//  1. No record or no token: ErrUnauthenticated.
//  2. Stored expiry passed: the record is unlinked, ErrTokenExpired.
//  3. The backend's who-am-I endpoint is asked about the token. 401/403
//     unlinks the record and returns ErrTokenExpired.
//  4. Any other failure (network, timeout, 5xx) is inconclusive. The stored
//     credentials are trusted and a warning is logged, unless the service is
//     strict, in which case the error is returned.
//
// IsLinked is the boolean form of the same check.
//
// # Preferences
//
// Language (BCP 47, validated with golang.org/x/text/language) and the
// notification toggle are written field by field, never as a full record.
//
// # Usage
//
//	svc := auth.NewService(identityStore, backendClient, auth.Options{
//	    Extractor:       auth.NewJWTExpiryExtractor(),
//	    RecheckInterval: time.Minute,
//	})
//	creds, err := svc.RequireCredentials(ctx, roomID)
package auth
