//go:build linux

package realfs

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// birthTime asks statx for STATX_BTIME. Older kernels and some filesystems
// leave the bit unset in the returned mask.
func birthTime(name string) (time.Time, bool, error) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, name, unix.AT_STATX_SYNC_AS_STAT, unix.STATX_BTIME, &stx); err != nil {
		if err == unix.ENOSYS {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, &fs.PathError{Op: "statx", Path: name, Err: err}
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), true, nil
}
