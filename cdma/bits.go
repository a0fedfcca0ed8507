package cdma

import "fmt"

// bitWriter appends values of arbitrary bit width MSB-first, the way the
// 3GPP2 transport and bearer data parameters are laid out.
type bitWriter struct {
	bytes []byte
	bits  int
}

func (w *bitWriter) WriteBits(value uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.bits%8 == 0 {
			w.bytes = append(w.bytes, 0)
		}
		if value&(1<<uint(i)) != 0 {
			w.bytes[len(w.bytes)-1] |= 1 << uint(7-w.bits%8)
		}
		w.bits++
	}
}

func (w *bitWriter) WriteByte(b byte) {
	w.WriteBits(uint32(b), 8)
}

// Bytes returns the written bytes, padded with zero bits to a full octet.
func (w *bitWriter) Bytes() []byte {
	return w.bytes
}

// bitReader extracts MSB-first values of arbitrary bit width.
type bitReader struct {
	bytes []byte
	pos   int
}

func newBitReader(bytes []byte) *bitReader {
	return &bitReader{bytes: bytes}
}

func (r *bitReader) ReadBits(n int) (uint32, error) {
	if r.pos+n > len(r.bytes)*8 {
		return 0, fmt.Errorf("bit field truncated: need %d bits at %d of %d", n, r.pos, len(r.bytes)*8)
	}
	var result uint32
	for i := 0; i < n; i++ {
		byteIndex := r.pos / 8
		bitIndex := uint(7 - r.pos%8)
		result <<= 1
		if r.bytes[byteIndex]&(1<<bitIndex) != 0 {
			result |= 1
		}
		r.pos++
	}
	return result, nil
}

func (r *bitReader) ReadByte() (byte, error) {
	v, err := r.ReadBits(8)
	return byte(v), err
}
