//go:build darwin

package realfs

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

func birthTime(name string) (time.Time, bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return time.Time{}, false, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return time.Unix(st.Btim.Unix()), true, nil
}
