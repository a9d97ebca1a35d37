package vmem

import "golang.org/x/sys/unix"

const mapFlags = unix.MAP_PRIVATE | unix.MAP_ANON

// sysDecommit marks b reusable so the kernel drops it from the resident
// set. Contents are unspecified until rewritten.
func sysDecommit(b []byte) error {
	return unix.Madvise(b, unix.MADV_FREE_REUSABLE)
}
