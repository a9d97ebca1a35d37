// Package residency reports how much of a mapping is backed by physical
// memory.
//
// On linux the probe reads /proc/self/smaps and returns the Rss of the
// mapping containing an address. Other platforms report KindUnsupported.
package residency
