// Package session implements Parley's dual-token session architecture.
//
// Each authenticated client holds two tokens:
//
//   - a short-lived signed access token (JWT, HS256) that authenticates
//     requests without touching the database;
//   - an opaque single-use refresh token, stored hashed in Postgres
//     (HMAC-SHA256 when PARLEY_TOKEN_HMAC_KEY is set; SHA-256 for dev),
//     rotated in place on every use with a sliding session expiry.
//
// Rotation is linearized per session via SELECT ... FOR UPDATE with a
// bounded lock_timeout; a lost race surfaces as ErrUnauthorized, never as
// two live refresh tokens.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
