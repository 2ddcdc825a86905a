package ext4

import "github.com/nalbion/ext4ro/ext4/md4"

// HashVersion identifies the directory-hash algorithm named in the
// superblock's s_def_hash_version and in each HTree root's dx_root_info
// (§3 Directory, §4.9). Enumeration itself never needs to evaluate a
// hash (see design notes open question on leaf-order walking), but
// by-name lookup and the exported DirHash helper do.
type HashVersion uint8

const (
	HashVersionLegacy          HashVersion = 0
	HashVersionHalfMD4         HashVersion = 1
	HashVersionTea             HashVersion = 2
	HashVersionLegacyUnsigned  HashVersion = 3
	HashVersionHalfMD4Unsigned HashVersion = 4
	HashVersionTeaUnsigned     HashVersion = 5
	HashVersionSIP             HashVersion = 6
)

const dirhashDefaultSeed0 = 0x67452301
const dirhashDefaultSeed1 = 0xefcdab89
const dirhashDefaultSeed2 = 0x98badcfe
const dirhashDefaultSeed3 = 0x10325476

// str2hashbuf packs name into a little-endian uint32 buffer of length
// num, matching the kernel's str2hashbuf/str2hashbuf_signed packing used
// ahead of both the half_md4 and TEA transforms: every word, including
// the unused high bytes of a final partial word, starts from a pad word
// made of the low byte of the name length repeated four times.
func str2hashbuf(name string, num int, signed bool) []uint32 {
	buf := make([]uint32, num)
	b := []byte(name)

	pad := uint32(len(b))
	pad = pad | (pad << 8) | (pad << 16) | (pad << 24)

	n := len(b)
	if n > num*4 {
		n = num * 4
	}

	val := pad
	for i := 0; i < n; i++ {
		var c uint32
		if signed {
			c = uint32(int8(b[i]))
		} else {
			c = uint32(b[i])
		}
		val = c + (val << 8)
		if i%4 == 3 {
			buf[i/4] = val
			val = pad
		}
	}
	if n/4 < num {
		buf[n/4] = val
	}
	for j := n/4 + 1; j < num; j++ {
		buf[j] = pad
	}
	return buf
}

// dxHackHash is the "legacy" ext2 directory hash (dx_hack_hash in the
// kernel), a simple rotate-and-multiply accumulator over raw bytes.
func dxHackHash(name string, signed bool) (hash, minorHash uint32) {
	var hash0 uint32 = 0x12a3fe2d
	var hash1 uint32 = 0x37abe8f9

	for i := 0; i < len(name); i++ {
		var c uint32
		if signed {
			c = uint32(int8(name[i]))
		} else {
			c = uint32(name[i])
		}
		hash := hash1 + (hash0 ^ (c * 7152373))

		if hash&0x80000000 != 0 {
			hash -= 0x7fffffff
		}
		hash1 = hash0
		hash0 = hash
	}
	return hash0 << 1, hash1 << 1
}

// ext4fsDirhash computes the (major, minor) hash pair for name under the
// given algorithm and optional 4-word seed, per the decoding rules a
// HTree leaf lookup needs (§4.9). seed may be nil, in which case the
// algorithm's built-in default seed constants are used.
func ext4fsDirhash(name string, version HashVersion, seed []uint32) (hash, minor uint32) {
	signed := version == HashVersionLegacy || version == HashVersionHalfMD4 || version == HashVersionTea

	switch version {
	case HashVersionLegacy, HashVersionLegacyUnsigned:
		return dxHackHash(name, signed)

	case HashVersionHalfMD4, HashVersionHalfMD4Unsigned:
		buf := [4]uint32{dirhashDefaultSeed0, dirhashDefaultSeed1, dirhashDefaultSeed2, dirhashDefaultSeed3}
		if len(seed) == 4 {
			copy(buf[:], seed)
		}
		words := str2hashbuf(name, 8, signed)
		rest := name
		for {
			buf = md4.TransformState(buf, words[0:8])
			// names longer than 32 bytes need additional 8-word
			// chunks folded in, each one carrying the full state
			// forward rather than just a single folded word.
			if len(rest) <= 32 {
				break
			}
			rest = rest[32:]
			words = str2hashbuf(rest, 8, signed)
		}
		hash = buf[1]
		minor = buf[2]

	case HashVersionTea, HashVersionTeaUnsigned:
		buf := [4]uint32{dirhashDefaultSeed0, dirhashDefaultSeed1, dirhashDefaultSeed2, dirhashDefaultSeed3}
		if len(seed) == 4 {
			copy(buf[:], seed)
		}
		words := str2hashbuf(name, 4, signed)
		teaTransform(&buf, words)
		hash = buf[0]
		minor = buf[1]

	default:
		return dxHackHash(name, false)
	}

	hash &^= 1
	if hash == (1 << 31) {
		hash = 0
	}
	return hash, minor
}

// teaTransform is the Tiny Encryption Algorithm core used by the TEA
// directory hash variant, operating on a 4-word state over a single
// 4-word input block.
func teaTransform(buf *[4]uint32, in []uint32) {
	const delta = 0x9E3779B9
	a, b := buf[0], buf[1]
	var sum uint32

	for n := 0; n < 16; n++ {
		sum += delta
		a += ((b << 4) + in[0]) ^ (b + sum) ^ ((b >> 5) + in[1])
		b += ((a << 4) + in[2]) ^ (a + sum) ^ ((a >> 5) + in[3])
	}

	buf[0] += a
	buf[1] += b
}

// DirHash computes the directory-entry hash for name the same way the
// filesystem's own HTree nodes were built, for callers that want to
// perform by-name lookup rather than a full enumeration walk.
func DirHash(name string, version HashVersion, seed []uint32) (hash, minor uint32) {
	return ext4fsDirhash(name, version, seed)
}
