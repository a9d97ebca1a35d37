package vmem

import "golang.org/x/sys/unix"

// Pages are only backed on first touch.
const mapFlags = unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_NORESERVE

// sysDecommit drops the backing pages of b. Anonymous private pages read
// as zero on next access.
func sysDecommit(b []byte) error {
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
