// Package device models the resources intermediate values live on and moves
// values between them.
//
// A Device is an opaque handle ("cpu", "cuda:0", ...). Move walks a value
// through a closed set of container shapes (slices, arrays, maps) and asks
// every Relocatable leaf to relocate itself; anything else is left alone.
package device
