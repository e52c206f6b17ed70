//go:build !darwin && !linux

package storage

import "errors"

// statFSType has no portable implementation here, so workspace and job
// history locality go unchecked.
func statFSType(string) (string, error) {
	return "", errors.New("filesystem type lookup not supported on this platform")
}
