// Package md4 implements the half-MD4 transform used by the half_md4
// ext4 directory hash variants. It is not the full MD4 digest
// algorithm — only the compression function the directory hash needs,
// operating on a 4-word running state and an 8-word input block.
package md4

func rotateLeft(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

func f(x, y, z uint32) uint32 { return (x & y) | (^x & z) }
func g(x, y, z uint32) uint32 { return (x & y) | (x & z) | (y & z) }
func h(x, y, z uint32) uint32 { return x ^ y ^ z }

func round(f func(x, y, z uint32) uint32, a, b, c, d, x uint32, s uint) uint32 {
	return rotateLeft(a+f(b, c, d)+x, s)
}

// transform runs the three half-MD4 rounds over an 8-word input block
// in[0:8] starting from running state buf, returning the raw
// post-round a/b/c/d words (not yet folded or accumulated back into
// buf).
func transform(buf [4]uint32, in []uint32) (a, b, c, d uint32) {
	a, b, c, d = buf[0], buf[1], buf[2], buf[3]

	// round 1, k = 0
	a = round(f, a, b, c, d, in[0], 3)
	d = round(f, d, a, b, c, in[1], 7)
	c = round(f, c, d, a, b, in[2], 11)
	b = round(f, b, c, d, a, in[3], 19)
	a = round(f, a, b, c, d, in[4], 3)
	d = round(f, d, a, b, c, in[5], 7)
	c = round(f, c, d, a, b, in[6], 11)
	b = round(f, b, c, d, a, in[7], 19)

	// round 2, k = 0x5A827999
	a = round(g, a, b, c, d, in[1]+0x5A827999, 3)
	d = round(g, d, a, b, c, in[3]+0x5A827999, 5)
	c = round(g, c, d, a, b, in[5]+0x5A827999, 9)
	b = round(g, b, c, d, a, in[7]+0x5A827999, 13)
	a = round(g, a, b, c, d, in[0]+0x5A827999, 3)
	d = round(g, d, a, b, c, in[2]+0x5A827999, 5)
	c = round(g, c, d, a, b, in[4]+0x5A827999, 9)
	b = round(g, b, c, d, a, in[6]+0x5A827999, 13)

	// round 3, k = 0x6ED9EBA1
	a = round(h, a, b, c, d, in[3]+0x6ED9EBA1, 3)
	d = round(h, d, a, b, c, in[7]+0x6ED9EBA1, 9)
	c = round(h, c, d, a, b, in[2]+0x6ED9EBA1, 11)
	b = round(h, b, c, d, a, in[6]+0x6ED9EBA1, 15)
	a = round(h, a, b, c, d, in[1]+0x6ED9EBA1, 3)
	d = round(h, d, a, b, c, in[5]+0x6ED9EBA1, 9)
	c = round(h, c, d, a, b, in[0]+0x6ED9EBA1, 11)
	b = round(h, b, c, d, a, in[4]+0x6ED9EBA1, 15)

	return a, b, c, d
}

// HalfMD4Transform runs the three half-MD4 rounds over an 8-word input
// block in[0:8], starting from running state buf, and returns one
// 32-bit word: buf[1] plus the round output b, i.e. the second word of
// the accumulated state that TransformState returns.
func HalfMD4Transform(buf [4]uint32, in []uint32) uint32 {
	_, b, _, _ := transform(buf, in)
	return buf[1] + b
}

// TransformState runs the same rounds as HalfMD4Transform but returns
// the full updated 4-word running state, with the incoming buf
// accumulated back in the way the kernel's half_md4_transform does
// (buf[i] += local). A caller hashing a name that spans more than one
// 8-word block needs this full state to carry forward between blocks;
// HalfMD4Transform's single-word result discards exactly what's needed
// for that.
func TransformState(buf [4]uint32, in []uint32) [4]uint32 {
	a, b, c, d := transform(buf, in)
	return [4]uint32{buf[0] + a, buf[1] + b, buf[2] + c, buf[3] + d}
}
