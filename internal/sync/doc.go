// Package sync reconciles the local note store with a remote provider.
//
// A cycle runs in fixed phases: acquire the guard, refresh the
// provider, pull the remote snapshot into the store, push local
// changes out, refresh again and finalize. At most one cycle runs at
// a time; overlapping requests are skipped, not queued. Individual
// note failures are logged and counted but never abort the cycle.
//
// Conflicts are never resolved automatically. A note edited both
// locally and remotely is marked and left alone until the user picks
// a side.
package sync
