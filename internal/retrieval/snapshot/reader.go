package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
)

// ReadHeader reads and validates only the header of the snapshot at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, b); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}
	return unmarshalHeader(b)
}

// Read loads the snapshot at path if it was built from the corpus with
// fingerprint want. It returns ErrStale when the fingerprints differ and
// ErrCorrupt when the file fails any integrity check; a missing file is
// reported as the underlying fs error.
func Read(path string, want corpus.Fingerprint) (*tfidf.Model, Header, error) {
	header, err := ReadHeader(path)
	if err != nil {
		return nil, Header{}, err
	}
	if header.Fingerprint != want {
		return nil, header, fmt.Errorf("%w: built from %s, corpus is %s",
			ErrStale, header.Fingerprint.Short(), want.Short())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, header, fmt.Errorf("reading snapshot file: %w", err)
	}
	end := uint64(HeaderSize) + header.PayloadLen
	if uint64(len(data)) != end+uint64(FooterSize) {
		return nil, header, fmt.Errorf("%w: file is %d bytes, header expects %d",
			ErrCorrupt, len(data), end+uint64(FooterSize))
	}
	compressed := data[HeaderSize:end]
	checksum := binary.LittleEndian.Uint32(data[end : end+4])
	if crc32.ChecksumIEEE(compressed) != checksum {
		return nil, header, fmt.Errorf("%w: payload checksum mismatch", ErrCorrupt)
	}

	raw, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, header.RawLen))
	if err != nil {
		return nil, header, fmt.Errorf("%w: decompressing payload: %v", ErrCorrupt, err)
	}
	if uint64(len(raw)) != header.RawLen {
		return nil, header, fmt.Errorf("%w: payload is %d bytes, header expects %d",
			ErrCorrupt, len(raw), header.RawLen)
	}
	var p payload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return nil, header, fmt.Errorf("%w: decoding payload: %v", ErrCorrupt, err)
	}
	if len(p.Rows) != int(header.DocCount) || len(p.Terms) != int(header.TermCount) {
		return nil, header, fmt.Errorf("%w: payload shape disagrees with header", ErrCorrupt)
	}
	m, err := tfidf.Restore(p.Terms, p.IDF, p.Rows)
	if err != nil {
		return nil, header, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, header, nil
}
