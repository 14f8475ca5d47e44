// Package password implements password hashing, legacy hash verification and
// strength policy.
//
// # Output format
//
// New hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes ($2a$/$2b$/$2y$) imported from older
// systems and reports them as needing a rehash, so the engine upgrades them to
// Argon2id on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other waanauth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
