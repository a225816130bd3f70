// Package jwt issues and verifies the signed access and refresh tokens used by
// authcore.
//
// Every token carries a kind discriminator so a refresh token is never accepted
// where an access token is expected, or the reverse. Verification is pure
// computation: [Manager.Verify] does not consult sessions, stores or the network.
//
// Failures map onto three sentinels: [ErrExpired], [ErrKindMismatch] and
// [ErrInvalid]. Expiry is checked before kind.
package jwt
