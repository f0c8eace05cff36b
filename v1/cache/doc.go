// Package cache provides the advisory cache layer used by the collab
// lock engine.
//
// Caches hold short-lived copies of lock, status and presence records so
// that high-frequency polling does not hit the durable store on every
// request. Every entry can be associated with tags, and a whole tag group
// can be invalidated at once after bulk mutations such as a reaper sweep.
//
// The cache is never the source of truth: the engine stays correct with
// the Nop backend installed, and the Resilient wrapper guarantees backend
// failures degrade to misses instead of propagating.
package cache
