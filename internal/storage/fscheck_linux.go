//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs f_type values, from linux/magic.h. Network and VM-shared mounts
// are named so isNetworkFilesystem can catch them. The common local ones
// are named so doctor output stays readable.
var linuxFSNames = map[uint64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021997: "9p",
	0x00C36400: "ceph",
	0x5346414F: "afs",
	0xEF53:     "ext4",
	0x58465342: "xfs",
	0x9123683E: "btrfs",
	0x01021994: "tmpfs",
	0x794C7630: "overlay",
	0x2FC12FC1: "zfs",
}

// statFSType names the filesystem holding path. Unknown magics are
// reported in hex.
func statFSType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	// f_type is a 32-bit magic; its Go type varies by arch.
	return linuxFSName(uint64(uint32(st.Type))), nil
}

func linuxFSName(magic uint64) string {
	if name, ok := linuxFSNames[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}
