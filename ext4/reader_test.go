package ext4

import "testing"

func TestSectionReaderTranslatesOffsets(t *testing.T) {
	data := []byte("xxxxxHELLOyyyyy")
	sr := newSectionReader(&memReader{data: data}, 5, 5)

	buf := make([]byte, 5)
	n, err := sr.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "HELLO" {
		t.Fatalf("got %q, want %q", buf[:n], "HELLO")
	}
}

func TestSectionReaderRejectsReadsOutsideSection(t *testing.T) {
	sr := newSectionReader(&memReader{data: []byte("0123456789")}, 2, 4)

	if _, err := sr.ReadAt(make([]byte, 1), -1); err == nil {
		t.Fatal("expected an error for a negative offset")
	}
	if _, err := sr.ReadAt(make([]byte, 5), 0); err == nil {
		t.Fatal("expected an error for a read overrunning the section")
	}
	if _, err := sr.ReadAt(make([]byte, 1), 10); err == nil {
		t.Fatal("expected an error for an offset past the section")
	}
}

// TestSectionReaderUnboundedWhenSizeIsZero confirms a size of 0 ("runs
// to the end of the underlying Reader") is not mistaken for a
// zero-length section: the bounds check is skipped and any rejection
// of an out-of-range offset comes from the underlying Reader itself.
func TestSectionReaderUnboundedWhenSizeIsZero(t *testing.T) {
	sr := newSectionReader(&memReader{data: []byte("0123456789")}, 3, 0)
	buf := make([]byte, 4)
	n, err := sr.ReadAt(buf, 2)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 4 || string(buf) != "5678" {
		t.Fatalf("got (%d, %q), want (4, %q)", n, buf[:n], "5678")
	}
}

// TestOpenAtDecodesImageEmbeddedAtOffset confirms the documented
// "disk-image slice at a known offset" entry point (§1): a filesystem
// image sitting at a nonzero byte offset inside a larger byte source
// (e.g. one partition of a partitioned disk) decodes identically to
// the same image read from byte 0.
func TestOpenAtDecodesImageEmbeddedAtOffset(t *testing.T) {
	img := buildTestImage(t)

	const padding = 512
	embedded := make([]byte, padding+len(img.data))
	copy(embedded[padding:], img.data)
	r := &memReader{data: embedded}

	h, err := OpenAt(r, padding, int64(len(img.data)))
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}

	sb := h.Superblock()
	if sb.BlockSize() != testBlockSize {
		t.Fatalf("BlockSize = %d, want %d", sb.BlockSize(), testBlockSize)
	}
	if sb.InodeCount() != 16 {
		t.Fatalf("InodeCount = %d, want 16", sb.InodeCount())
	}

	root, err := h.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if !root.IsDir() {
		t.Fatal("root inode is not a directory")
	}
}
