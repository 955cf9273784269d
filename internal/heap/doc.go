// Package heap tracks the live instance population and enumerates the
// instances of given class versions.
//
// Go offers no reflective walk over every live allocation, so instances
// register themselves with a [Population] on construction. The population
// holds weak pointers and forgets an instance once the garbage collector
// reclaims it. The [Enumerator] starts from that population plus host roots
// (unit globals and values held by the host) and follows each matching
// instance's references through lists, tuples, dicts, sets, bound methods and
// class constants.
package heap
