// Package password implements secret hashing and verification with Argon2id
// defaults and legacy bcrypt verification.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. Padded values are accepted
// on verification.
//
// The [Hasher] supports transparent parameter upgrades: if the stored hash was
// produced with weaker parameters or is a legacy bcrypt hash,
// [Hasher.NeedsUpgrade] returns true so the caller can re-hash on the next
// successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords: callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
