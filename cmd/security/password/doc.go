// Package password provides password hashing and verification for Parley.
//
// It implements Argon2id hashing with a PHC-style encoded string format:
// - Configurable Argon2id cost parameters (via environment variables)
// - Length policy validation
// - Strict hash decoding and verification with anti-DoS bounds
//
// Hash strings are treated as untrusted input during Verify: decoding is
// strict and verification refuses hashes whose parameters exceed sane
// bounds, so a poisoned row cannot force pathological work.
package password
