// Package identity holds Parley's user principal: the User record, its
// canonicalization rules, and the persistence boundary used by the auth
// and realtime layers.
//
// Password hashing lives in cmd/security/password; this package stores
// only the encoded hash.
package identity
