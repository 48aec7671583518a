// Package images persists image records and enforces their lifecycle.
//
// Every record moves through a fixed set of statuses, and all writes after
// creation go through the store's guarded Transition, which refuses to apply
// when the record is not in the caller's expected status. That single
// primitive is what keeps concurrent pipeline workers, the expiry sweeper,
// and delete requests from trampling each other.
package images
