// Package timingbloom implements a time-decaying Bloom filter: "was key K
// observed in the last D seconds?", answered with a tunable false-positive
// rate and sub-linear space per element.
//
// Filter is a single fixed-size filter where each cell remembers the tick
// it was last touched at, rather than just whether it was touched, so
// staleness can be decided from a local read. Scaling is a self-scaling
// composite of Filters with geometrically tightening error rates, for
// streams whose size isn't known up front.
//
// Both expose the same operational contract (Add, Contains, Decay,
// SizeEstimate, Start, Stop) and drive their decay sweep off an injected
// Scheduler rather than a hardcoded event loop, so callers can supply a
// real clock or a fake one in tests.
package timingbloom
