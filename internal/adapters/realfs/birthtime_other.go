//go:build !linux && !darwin

package realfs

import "time"

func birthTime(string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
