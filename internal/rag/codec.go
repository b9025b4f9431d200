package rag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Binary artifact layout (all integers little-endian):
//
//	magic    [4]byte  "PVIX"
//	version  uint8    currently 1
//	dim      uint32
//	count    uint32
//	entries  count times:
//	    idLen   uint32, id   [idLen]byte
//	    seq     uint32
//	    srcLen  uint32, src  [srcLen]byte
//	    textLen uint32, text [textLen]byte
//	    vector  dim × float32
//
// Decoding validates the magic, version, and every length field against the
// remaining input, so truncated or foreign files surface as ErrCorruptIndex
// instead of panics or garbage indexes.

var indexMagic = [4]byte{'P', 'V', 'I', 'X'}

const indexVersion = 1

// maxFieldLen bounds individual length prefixes during decode. Anything
// larger than this in a header is corruption, not data.
const maxFieldLen = 1 << 30

// MarshalBinary serializes the index into the binary artifact format.
func (ix *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(indexMagic[:])
	buf.WriteByte(indexVersion)

	writeUint32(&buf, uint32(ix.dim))
	writeUint32(&buf, uint32(ix.Len()))

	for i := 0; i < ix.Len(); i++ {
		writeString(&buf, ix.ids[i])
		writeUint32(&buf, uint32(ix.seqs[i]))
		writeString(&buf, ix.sources[i])
		writeString(&buf, ix.texts[i])
		for _, f := range ix.vecs[i] {
			writeUint32(&buf, math.Float32bits(f))
		}
	}

	return buf.Bytes(), nil
}

// UnmarshalIndex decodes a binary artifact produced by MarshalBinary.
// Any structural inconsistency fails with ErrCorruptIndex.
func UnmarshalIndex(data []byte) (*Index, error) {
	r := &byteReader{data: data}

	magic, err := r.take(4)
	if err != nil || !bytes.Equal(magic, indexMagic[:]) {
		return nil, fmt.Errorf("rag: %w: bad magic header", ErrCorruptIndex)
	}
	ver, err := r.take(1)
	if err != nil {
		return nil, fmt.Errorf("rag: %w: truncated header", ErrCorruptIndex)
	}
	if ver[0] != indexVersion {
		return nil, fmt.Errorf("rag: %w: unsupported artifact version %d", ErrCorruptIndex, ver[0])
	}

	dim, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rag: %w: truncated header", ErrCorruptIndex)
	}
	count, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("rag: %w: truncated header", ErrCorruptIndex)
	}
	if count > 0 && dim == 0 {
		return nil, fmt.Errorf("rag: %w: zero dimensionality with %d entries", ErrCorruptIndex, count)
	}

	chunks := make([]Chunk, 0, count)
	vecs := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.lenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("rag: %w: entry %d id: %v", ErrCorruptIndex, i, err)
		}
		seq, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("rag: %w: entry %d seq truncated", ErrCorruptIndex, i)
		}
		src, err := r.lenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("rag: %w: entry %d source: %v", ErrCorruptIndex, i, err)
		}
		text, err := r.lenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("rag: %w: entry %d text: %v", ErrCorruptIndex, i, err)
		}

		raw, err := r.take(int(dim) * 4)
		if err != nil {
			return nil, fmt.Errorf("rag: %w: entry %d vector truncated", ErrCorruptIndex, i)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}

		chunks = append(chunks, Chunk{ID: string(id), Seq: int(seq), Source: string(src), Text: string(text)})
		vecs = append(vecs, vec)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("rag: %w: %d trailing bytes after %d entries", ErrCorruptIndex, r.remaining(), count)
	}

	ix, err := newIndex(chunks, vecs)
	if err != nil {
		return nil, fmt.Errorf("rag: %w: %v", ErrCorruptIndex, err)
	}
	return ix, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// byteReader is a bounds-checked cursor over the artifact bytes.
type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.off }

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d", n, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) lenPrefixed() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("length truncated")
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("length %d exceeds sanity bound", n)
	}
	return r.take(int(n))
}
