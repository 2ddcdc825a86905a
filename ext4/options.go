package ext4

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Option configures Open. The zero value of every option is "use the
// library default", so callers only need to reach for WithX when they
// want something other than silent, strict decoding.
type Option func(*openConfig)

type openConfig struct {
	logger           *logrus.Logger
	allowedIncompat  *uint32
	checksumsFatal   bool
}

func newOpenConfig() *openConfig {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &openConfig{logger: l}
}

// WithLogger injects a logger for diagnostic messages (advisory
// superblock, inode and xattr checksum mismatches). The default is
// a logrus.Logger with output discarded, matching the library's
// silent-by-default posture.
func WithLogger(l *logrus.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// WithAllowedIncompat overrides the default recognized INCOMPAT feature
// allowlist (§6, §9 open question). Pass the full bitmask of every
// incompat bit this caller is prepared to see; any bit outside it still
// fails Open with *UnsupportedFeatureError.
func WithAllowedIncompat(mask uint32) Option {
	return func(c *openConfig) { c.allowedIncompat = &mask }
}

// WithFatalChecksums makes a superblock *ChecksumMismatchError abort
// Open, and an inode *ChecksumMismatchError fail Handle.Inode, instead
// of the default advisory behavior of logging the mismatch and going on
// with the decoded structure. Group descriptor checksum mismatches are
// not reported at all, with or without this option, and xattr
// mismatches stay advisory.
func WithFatalChecksums() Option {
	return func(c *openConfig) { c.checksumsFatal = true }
}
