//go:build linux || darwin

package vmem

import "golang.org/x/sys/unix"

const supported = true

func hostPageSize() uint64 {
	return uint64(unix.Getpagesize())
}

func osProt(p protection) int {
	if p == protReadWrite {
		return unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.PROT_NONE
}

// sysReserve maps size bytes of private anonymous memory, readable and
// writable. The caller narrows protections afterwards.
func sysReserve(size uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, mapFlags)
}

// sysProtect requires len(b) > 0.
func sysProtect(b []byte, p protection) error {
	return unix.Mprotect(b, osProt(p))
}

// sysUnmap must be given the exact slice returned by sysReserve.
func sysUnmap(b []byte) error {
	return unix.Munmap(b)
}
