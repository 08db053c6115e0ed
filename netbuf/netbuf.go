// Package netbuf provides owned byte payload buffers for the network
// driver queues. A Buffer's backing storage belongs to exactly one
// holder at a time; MoveTo transfers ownership without copying, which
// is what the socket state machines rely on when handing payloads
// between application streams and bus transactions.
package netbuf

// A Buffer holds a single owned byte payload.
type Buffer struct {
	data []byte
}

// Len returns the number of payload bytes held by the buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the current payload contents. The returned slice
// aliases the buffer and is invalidated by any mutating call.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Append adds the given bytes to the end of the buffer.
func (b *Buffer) Append(bytes ...byte) {
	b.data = append(b.data, bytes...)
}

// Read copies len(p) bytes starting at the given offset into p. It
// returns false if the requested range lies outside the buffer.
func (b *Buffer) Read(offset int, p []byte) bool {
	if offset < 0 || offset+len(p) > len(b.data) {
		return false
	}
	copy(p, b.data[offset:])
	return true
}

// Write copies p into the buffer starting at the given offset,
// extending the buffer if the write runs past the current end. It
// returns false if the offset lies beyond the current end.
func (b *Buffer) Write(offset int, p []byte) bool {
	if offset < 0 || offset > len(b.data) {
		return false
	}
	if need := offset + len(p); need > len(b.data) {
		b.Resize(need)
	}
	copy(b.data[offset:], p)
	return true
}

// Resize sets the buffer length to n bytes, zero filling any extension
// and truncating any excess.
func (b *Buffer) Resize(n int) {
	if n < 0 {
		n = 0
	}
	for len(b.data) < n {
		b.data = append(b.data, 0)
	}
	b.data = b.data[:n]
}

// Rebase discards all but the trailing n bytes of the buffer. It is
// used to strip embedded headers from received payloads.
func (b *Buffer) Rebase(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(b.data) {
		return
	}
	copy(b.data, b.data[len(b.data)-n:])
	b.data = b.data[:n]
}

// Reset releases the buffer contents.
func (b *Buffer) Reset() {
	b.data = nil
}

// MoveTo transfers the buffer contents to dst, leaving the source
// empty. Any previous contents of dst are released.
func (b *Buffer) MoveTo(dst *Buffer) {
	dst.data = b.data
	b.data = nil
}
