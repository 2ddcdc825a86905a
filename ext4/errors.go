package ext4

import "fmt"

// IoError wraps a failure from the underlying Reader, carrying the byte
// offset the decoder was trying to read at.
type IoError struct {
	Offset int64
	Cause  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("ext4: i/o error at offset %d: %v", e.Offset, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

// BadMagicError reports a signature mismatch in a superblock, extent
// header, or xattr header.
type BadMagicError struct {
	Where    string
	Found    uint32
	Expected uint32
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("ext4: bad magic in %s: found %#x, expected %#x", e.Where, e.Found, e.Expected)
}

// UnsupportedFeatureError reports an incompat bit the decoder does not
// implement.
type UnsupportedFeatureError struct {
	Bit uint32
	Map string // "compat", "incompat", or "ro_compat"
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("ext4: unsupported %s feature bit %#x", e.Map, e.Bit)
}

// CorruptStructureError reports an internal length/alignment inconsistency:
// a directory rec_len, out-of-order extent entries, an inode_size below
// the minimum, and the like.
type CorruptStructureError struct {
	Kind   string
	Offset int64
	Detail string
}

func (e *CorruptStructureError) Error() string {
	return fmt.Sprintf("ext4: corrupt %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

// ChecksumMismatchError is advisory by default: the decoded value is
// still returned alongside this error, and callers decide whether to
// treat it as fatal.
type ChecksumMismatchError struct {
	Kind     string
	Computed uint32
	Stored   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("ext4: %s checksum mismatch: computed %#x, stored %#x", e.Kind, e.Computed, e.Stored)
}

// OutOfRangeError reports a request outside the valid domain for its
// kind: inode number 0, a group number beyond group_count, and so on.
type OutOfRangeError struct {
	What  string
	Value int64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("ext4: %s out of range: %d", e.What, e.Value)
}
