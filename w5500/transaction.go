package w5500

import "github.com/zynaptic/w5500go/netbuf"

// transaction carries one register or buffer access through the
// command and response queues. The size field selects the payload
// representation: a non-zero size transfers up to eight bytes through
// the inline array, while a zero size transfers the contents of the
// variable length data buffer.
type transaction struct {
	address uint16
	control uint8
	size    uint8
	inline  [8]byte
	data    netbuf.Buffer
}

// header formats the fixed three byte transaction header, with the
// length mode bits cleared to select variable length data mode.
func (t *transaction) header() [3]byte {
	return [3]byte{
		uint8(t.address >> 8),
		uint8(t.address),
		t.control & ctrlDataModeMask,
	}
}

// isWrite indicates the transfer direction on the wire.
func (t *transaction) isWrite() bool {
	return t.control&ctrlWriteEnable != 0
}

// discard indicates that no response should be generated once the
// transaction completes.
func (t *transaction) discard() bool {
	return t.control&ctrlDiscardResponse != 0
}

// payloadLen returns the number of payload bytes to transfer.
func (t *transaction) payloadLen() int {
	if t.size > 0 {
		return int(t.size)
	}
	return t.data.Len()
}

// setInline copies the supplied bytes into the inline payload array.
func (t *transaction) setInline(data ...byte) {
	t.size = uint8(len(data))
	copy(t.inline[:], data)
}

// TraceSink receives a record of each completed bus transaction. The
// sink is invoked from the adaptor processing context and must not
// block.
type TraceSink interface {
	RecordTransaction(address uint16, control uint8, size int, write bool)
}
