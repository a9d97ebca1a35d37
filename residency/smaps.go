package residency

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Region is one mapping as reported by the kernel.
type Region struct {
	Start uintptr
	End   uintptr
	Perms string
	// Size and Rss are in bytes.
	Size uint64
	Rss  uint64
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// findRegion scans an smaps listing for the mapping containing addr.
func findRegion(src io.Reader, addr uintptr) (Region, bool, error) {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var (
		cur     Region
		inRange bool
	)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		if !strings.HasSuffix(fields[0], ":") {
			if inRange {
				return cur, true, nil
			}
			r, err := parseHeader(fields)
			if err != nil {
				return Region{}, false, err
			}
			cur, inRange = r, r.Contains(addr)
			continue
		}
		if !inRange {
			continue
		}

		switch fields[0] {
		case "Size:":
			v, err := parseKB(fields)
			if err != nil {
				return Region{}, false, err
			}
			cur.Size = v
		case "Rss:":
			v, err := parseKB(fields)
			if err != nil {
				return Region{}, false, err
			}
			cur.Rss = v
		}
	}
	if err := sc.Err(); err != nil {
		return Region{}, false, err
	}
	return cur, inRange, nil
}

// parseHeader parses "start-end perms offset dev inode [path]".
func parseHeader(fields []string) (Region, error) {
	if len(fields) < 2 {
		return Region{}, fmt.Errorf("malformed mapping header %q", strings.Join(fields, " "))
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return Region{}, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("start address %q: %w", lo, err)
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("end address %q: %w", hi, err)
	}
	if end < start {
		return Region{}, fmt.Errorf("inverted address range %q", fields[0])
	}
	return Region{Start: uintptr(start), End: uintptr(end), Perms: fields[1]}, nil
}

// parseKB parses "Key: <n> kB" into bytes.
func parseKB(fields []string) (uint64, error) {
	if len(fields) != 3 || fields[2] != "kB" {
		return 0, fmt.Errorf("malformed %s line", strings.TrimSuffix(fields[0], ":"))
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s value %q: %w", strings.TrimSuffix(fields[0], ":"), fields[1], err)
	}
	return v << 10, nil
}
