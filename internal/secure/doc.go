// Package secure keeps secret values encrypted in memory between the moment
// a provider returns them and the moment they are handed to a child process
// or written to an output stream.
//
// Values are sealed in memguard enclaves (XSalsa20Poly1305, mlocked key
// material). Plaintext is only materialized through SecureBuffer.Open, whose
// LockedBuffer must be destroyed by the caller, or through Reveal at the
// final handoff.
//
//	sealed := secure.Seal(secrets)
//	defer sealed.Destroy()
//	...
//	plain, err := sealed.Open()
//
// On Linux, memory locking is subject to RLIMIT_MEMLOCK. Call
// memguard.Purge before the process exits to wipe remaining key material.
package secure
