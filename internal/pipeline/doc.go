// Package pipeline implements the two processing stages of an image record.
//
// The download stage fetches and validates the source URL and commits it to
// the original disk; the variant stage derives every registered variant from
// the stored original. Stages coordinate exclusively through the record
// store's guarded transitions: slow work (network, decode, encode, disk I/O)
// always happens between transitions, never inside one, and a guard refusal
// aborts the stage without side effects.
//
// Terminal failures are persisted into the record (status failed plus
// lastError) before the wrapped error propagates, so observers never need
// logs to know a record failed.
package pipeline
