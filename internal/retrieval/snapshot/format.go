// Package snapshot persists a built TF-IDF model so a restart over an
// unchanged corpus can skip tokenising and weighting.
//
// A snapshot is a single file: a fixed 96-byte header, a zstd-compressed
// CBOR payload, and an 8-byte footer holding the payload CRC32. The header
// carries the corpus fingerprint, so staleness is decided without touching
// the payload.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	FileName             = "faq.idx"
	MagicBytes    uint32 = 0x58514146 // "FAQX" little-endian
	FormatVersion uint32 = 1
	HeaderSize    int    = 96
	FooterSize    int    = 8

	// maxRawSize bounds the decompressed payload.
	maxRawSize = 1 << 30
)

var (
	// ErrStale means the snapshot was built from a different corpus.
	ErrStale = errors.New("snapshot is stale")
	// ErrCorrupt means the file is truncated, mangled or of an unknown
	// format version.
	ErrCorrupt = errors.New("snapshot is corrupt")
)

// Header is the fixed-size prefix of a snapshot file.
type Header struct {
	Magic       uint32
	Version     uint32
	DocCount    uint32
	TermCount   uint32
	CreatedAt   int64
	PayloadLen  uint64
	RawLen      uint64
	Fingerprint corpus.Fingerprint
}

func (h Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(b[12:16], h.TermCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], h.PayloadLen)
	binary.LittleEndian.PutUint64(b[32:40], h.RawLen)
	copy(b[40:72], h.Fingerprint[:])
	return b
}

func unmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		DocCount:   binary.LittleEndian.Uint32(b[8:12]),
		TermCount:  binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		PayloadLen: binary.LittleEndian.Uint64(b[24:32]),
		RawLen:     binary.LittleEndian.Uint64(b[32:40]),
	}
	copy(h.Fingerprint[:], b[40:72])
	if h.Magic != MagicBytes {
		return Header{}, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, h.Version)
	}
	if h.RawLen > maxRawSize {
		return Header{}, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrCorrupt, h.RawLen)
	}
	return h, nil
}

// payload is the CBOR body of a snapshot.
type payload struct {
	Terms []string       `cbor:"1,keyasint"`
	IDF   []float64      `cbor:"2,keyasint"`
	Rows  []tfidf.Vector `cbor:"3,keyasint"`
}

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	// Core deterministic encoding: the same model always yields the same
	// bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
	}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxRawSize))
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Path returns the snapshot file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}
