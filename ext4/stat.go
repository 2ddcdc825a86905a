package ext4

import (
	"time"

	times "gopkg.in/djherbis/times.v1"
)

// Stat is the metadata snapshot returned by Inode.Stat. It implements
// times.Timespec (and the optional birth-time extension) so callers
// already working against that interface for live filesystem
// inspection can treat a decoded image inode the same way.
type Stat struct {
	Mode  uint16
	UID   uint32
	GID   uint32
	Size  uint64
	Links uint16

	Rdev uint64 // device number for char/block device inodes, combined via mkdev

	ATime time.Time
	MTime time.Time
	CTime time.Time
	BTime time.Time

	hasBTime bool
}

func (s Stat) ModTime() time.Time    { return s.MTime }
func (s Stat) AccessTime() time.Time { return s.ATime }
func (s Stat) ChangeTime() time.Time { return s.CTime }
func (s Stat) HasChangeTime() bool   { return !s.CTime.IsZero() }
func (s Stat) BirthTime() time.Time  { return s.BTime }
func (s Stat) HasBirthTime() bool    { return s.hasBTime }

var _ times.Timespec = Stat{}

// Stat assembles a Stat snapshot for this inode, decoding its device
// number out of i_block[0]/i_block[1] for character and block device
// inodes the way the kernel's init_special_inode does (§4.6).
func (i *Inode) Stat() (Stat, error) {
	s := Stat{
		Mode:  i.raw.mode,
		UID:   i.raw.owner,
		GID:   i.raw.group,
		Size:  i.raw.size,
		Links: i.raw.hardLinks,
		ATime: i.raw.accessTime,
		MTime: i.raw.modifyTime,
		CTime: i.raw.changeTime,
	}
	if !i.raw.createTime.IsZero() {
		s.BTime = i.raw.createTime
		s.hasBTime = true
	}

	if i.raw.ft == modeFileTypeCharDev || i.raw.ft == modeFileTypeBlockDev {
		major, minor, ok := decodeDeviceNumber(i.raw.rawIBlock[:])
		if ok {
			s.Rdev = mkdev(major, minor)
		}
	}

	return s, nil
}

// decodeDeviceNumber extracts a device's major/minor numbers from the
// first one or two words of i_block, honoring both the old (16-bit
// minor packed with major) and new (split, wider) encodings the kernel
// uses depending on which word is nonzero.
func decodeDeviceNumber(iBlock []byte) (major, minor uint32, ok bool) {
	if len(iBlock) < 8 {
		return 0, 0, false
	}
	dev0 := u32(iBlock, 0)
	if dev0 != 0 {
		major = (dev0 & 0xfff00) >> 8
		minor = (dev0 & 0xff) | ((dev0 >> 12) & 0xfff00)
		return major, minor, true
	}
	dev1 := u32(iBlock, 4)
	major = (dev1 & 0xfff00) >> 8
	minor = (dev1 & 0xff) | ((dev1 >> 12) & 0xfff00)
	return major, minor, true
}
