package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
)

// Write atomically replaces the snapshot in dir with m, tagged with the
// fingerprint of the corpus it was built from. It writes to a .tmp file,
// syncs, and renames on success. It returns the final path.
func Write(dir string, fp corpus.Fingerprint, m *tfidf.Model) (string, error) {
	raw, err := encMode.Marshal(payload{
		Terms: m.Terms(),
		IDF:   m.IDFs(),
		Rows:  m.Rows(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding snapshot payload: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	header := Header{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		DocCount:    uint32(m.NumDocs()),
		TermCount:   uint32(m.VocabularySize()),
		CreatedAt:   time.Now().Unix(),
		PayloadLen:  uint64(len(compressed)),
		RawLen:      uint64(len(raw)),
		Fingerprint: fp,
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(compressed))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	finalPath := Path(dir)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)
	defer f.Close()

	for _, part := range [][]byte{header.marshal(), compressed, footer} {
		if _, err := f.Write(part); err != nil {
			return "", fmt.Errorf("writing snapshot: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return finalPath, nil
}
