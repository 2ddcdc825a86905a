package ext4

import "testing"

func TestCombineLoHi32(t *testing.T) {
	cases := []struct {
		name string
		lo   uint32
		hi   uint16
		wide bool
		want uint64
	}{
		{"narrow ignores hi", 0xFFFFFFFF, 0x1234, false, 0xFFFFFFFF},
		{"wide combines", 0x00000001, 0x0002, true, 0x0002_0000_0001},
		{"wide zero hi", 0x00000042, 0, true, 0x42},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := combineLoHi32(c.lo, c.hi, c.wide); got != c.want {
				t.Fatalf("combineLoHi32(%#x, %#x, %v) = %#x, want %#x", c.lo, c.hi, c.wide, got, c.want)
			}
		})
	}
}

func TestCombineLoHi16(t *testing.T) {
	cases := []struct {
		name string
		lo   uint16
		hi   uint16
		wide bool
		want uint32
	}{
		{"narrow ignores hi", 0xFFFF, 0x1234, false, 0xFFFF},
		{"wide combines", 0x0001, 0x0002, true, 0x0002_0001},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := combineLoHi16(c.lo, c.hi, c.wide); got != c.want {
				t.Fatalf("combineLoHi16(%#x, %#x, %v) = %#x, want %#x", c.lo, c.hi, c.wide, got, c.want)
			}
		})
	}
}

func TestLittleEndianFieldReads(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if got := u8(b, 0); got != 0x01 {
		t.Fatalf("u8 = %#x", got)
	}
	if got := u16(b, 0); got != 0x0201 {
		t.Fatalf("u16 = %#x", got)
	}
	if got := u32(b, 0); got != 0x04030201 {
		t.Fatalf("u32 = %#x", got)
	}
	if got := u64(b, 0); got != 0x0807060504030201 {
		t.Fatalf("u64 = %#x", got)
	}
}
