// Package password hashes and verifies secrets.
//
// New hashes are argon2id in PHC form:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>
//
// Older "pbkdf2:<digest>:<iterations>$salt$hex" and "scrypt:<N>:<r>:<p>$salt$hex"
// hashes still verify through [VerifyLegacy]. [Hasher.NeedsRehash] is always
// true for them, and for argon2id hashes weaker than the current [Config], so
// callers can upgrade on the next successful login.
//
// The package never stores, logs or compares against history; reuse rules
// belong to the engine.
package password
