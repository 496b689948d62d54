package vfs

import "testing"

func TestFileBodyNewIsEmpty(t *testing.T) {
	b := NewFileBody()
	if b.Size() != 0 {
		t.Fatalf("expected empty body, got size %d", b.Size())
	}
}

// TestFileBodyResizeGrowsAndShrinks mirrors the source's
// test_resize_file: grow 0..10000 and back down, checking the buffer
// count matches ceil(size, BasePageSize) at every step.
func TestFileBodyResizeGrowsAndShrinks(t *testing.T) {
	b := NewFileBody()
	for i := 0; i <= 10000; i += 97 {
		b.Resize(i)
		if b.Size() != i {
			t.Fatalf("after growing to %d, Size() = %d", i, b.Size())
		}
		wantBuffers := ceilDiv(i, BasePageSize)
		if got := len(b.buffers); got != wantBuffers {
			t.Fatalf("at size %d: got %d buffers, want %d", i, got, wantBuffers)
		}
	}
	for i := 10000; i >= 0; i -= 97 {
		b.Resize(i)
		if b.Size() != i {
			t.Fatalf("after shrinking to %d, Size() = %d", i, b.Size())
		}
	}
}

func TestFileBodyResizeIdempotent(t *testing.T) {
	b := NewFileBody()
	b.Resize(5000)
	snapshot := b.Size()
	b.Resize(5000)
	if b.Size() != snapshot {
		t.Fatalf("second resize(n) changed size: %d -> %d", snapshot, b.Size())
	}
}

// TestFileBodyScenario1Append is spec Scenario 1.
func TestFileBodyScenario1Append(t *testing.T) {
	b := NewFileBody()
	first := make([]byte, 10)
	for i := range first {
		first[i] = 1
	}
	second := make([]byte, 10)
	for i := range second {
		second[i] = 2
	}
	if n := b.Write(first, -1); n != 10 {
		t.Fatalf("first write returned %d, want 10", n)
	}
	if n := b.Write(second, -1); n != 10 {
		t.Fatalf("second write returned %d, want 10", n)
	}

	dst := make([]byte, 20)
	if n := b.Read(dst, 0, 20); n != 20 {
		t.Fatalf("read returned %d, want 20", n)
	}
	for i := 0; i < 10; i++ {
		if dst[i] != 1 {
			t.Fatalf("dst[%d] = %d, want 1", i, dst[i])
		}
	}
	for i := 10; i < 20; i++ {
		if dst[i] != 2 {
			t.Fatalf("dst[%d] = %d, want 2", i, dst[i])
		}
	}
}

// TestFileBodyScenario2OverlappingWrite is spec Scenario 2.
func TestFileBodyScenario2OverlappingWrite(t *testing.T) {
	b := NewFileBody()
	b.Write([]byte{1, 1, 1}, -1)
	b.Write([]byte{2, 2, 2}, 2)

	dst := make([]byte, 6)
	n := b.Read(dst, 0, 6)
	if n != 5 {
		t.Fatalf("read returned %d, want 5", n)
	}
	want := []byte{1, 1, 2, 2, 2, 0}
	for i, w := range want {
		if dst[i] != w {
			t.Fatalf("dst[%d] = %d, want %d (dst=%v)", i, dst[i], w, dst)
		}
	}
}

// TestFileBodyReadWriteByteForByte mirrors the source's test_read_file:
// append 10000 bytes of a known value, then read them back one byte
// at a time.
func TestFileBodyReadWriteByteForByte(t *testing.T) {
	b := NewFileBody()
	src := make([]byte, 10000)
	for i := range src {
		src[i] = 0xb
	}
	if n := b.Write(src, -1); n != len(src) {
		t.Fatalf("write returned %d, want %d", n, len(src))
	}
	one := make([]byte, 1)
	for i := 0; i < len(src); i++ {
		if n := b.Read(one, i, i+1); n != 1 {
			t.Fatalf("read at %d returned %d, want 1", i, n)
		}
		if one[0] != 0xb {
			t.Fatalf("byte at %d = %#x, want 0xb", i, one[0])
		}
	}
}

// TestFileBodyWriteOnFreshFile guards against a regression where
// Write on a body with no buffers yet (the very first write to a
// newly created file) indexed b.buffers[-1] instead of appending a
// first buffer.
func TestFileBodyWriteOnFreshFile(t *testing.T) {
	b := NewFileBody()
	if n := b.Write([]byte("hi"), -1); n != 2 {
		t.Fatalf("write returned %d, want 2", n)
	}
	dst := make([]byte, 2)
	if n := b.Read(dst, 0, 2); n != 2 || string(dst) != "hi" {
		t.Fatalf("got %q (%d bytes), want hi", dst[:n], n)
	}
}

func TestFileBodyBytesNeverWrittenReadAsZero(t *testing.T) {
	b := NewFileBody()
	b.Resize(100)
	dst := make([]byte, 100)
	b.Read(dst, 0, 100)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %d, want 0 for never-written bytes", i, v)
		}
	}
}
