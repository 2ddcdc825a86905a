//go:build !windows

package ext4

import "golang.org/x/sys/unix"

// mkdev combines a major/minor pair the same way unix.Mkdev does,
// which is what every POSIX stat caller expects Rdev to look like.
func mkdev(major, minor uint32) uint64 { return unix.Mkdev(major, minor) }

// Sys returns a unix.Stat_t-shaped view of the raw mode/owner/device
// fields, for callers that want the same struct shape os.FileInfo.Sys()
// would hand back for a live mount.
func (s Stat) Sys() *unix.Stat_t {
	return &unix.Stat_t{
		Mode:  uint32(s.Mode),
		Uid:   s.UID,
		Gid:   s.GID,
		Size:  int64(s.Size),
		Nlink: uint64(s.Links),
		Rdev:  s.Rdev,
	}
}
