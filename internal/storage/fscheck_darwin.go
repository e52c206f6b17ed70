//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

// statFSType names the filesystem holding path using the kernel's
// f_fstypename ("apfs", "smbfs", "nfs" and so on).
func statFSType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	name := make([]byte, 0, len(st.Fstypename))
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return string(name), nil
}
