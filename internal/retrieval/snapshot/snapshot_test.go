package snapshot

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
)

func testCorpus(t *testing.T) (*corpus.Corpus, *tfidf.Model) {
	t.Helper()
	c, err := corpus.New([]corpus.Pair{
		{Question: "How do I reset my password?", Answer: "Use the reset link."},
		{Question: "How do I delete my account?", Answer: "Contact support."},
		{Question: "Refunds?", Answer: "Within 30 days."},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c, tfidf.Build(c.ProcessedQuestions())
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, m := testCorpus(t)

	path, err := Write(dir, c.Fingerprint(), m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != filepath.Join(dir, FileName) {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	got, header, err := Read(path, c.Fingerprint())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if header.DocCount != 3 || int(header.TermCount) != m.VocabularySize() {
		t.Errorf("header = %+v", header)
	}
	if !reflect.DeepEqual(got.Terms(), m.Terms()) {
		t.Errorf("terms differ: %v vs %v", got.Terms(), m.Terms())
	}
	for i, w := range m.IDFs() {
		if math.Float64bits(got.IDFs()[i]) != math.Float64bits(w) {
			t.Fatalf("idf %d not bit-identical", i)
		}
	}
	for i, row := range m.Rows() {
		if !reflect.DeepEqual(got.Rows()[i], row) {
			t.Fatalf("row %d differs: %+v vs %+v", i, got.Rows()[i], row)
		}
	}
}

func TestReadStale(t *testing.T) {
	dir := t.TempDir()
	c, m := testCorpus(t)
	path, err := Write(dir, c.Fingerprint(), m)
	if err != nil {
		t.Fatal(err)
	}
	other, err := corpus.New([]corpus.Pair{{Question: "q", Answer: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	_, header, err := Read(path, other.Fingerprint())
	if !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if header.Fingerprint != c.Fingerprint() {
		t.Error("stale read should still report the header")
	}
}

func TestReadCorrupt(t *testing.T) {
	c, m := testCorpus(t)

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"truncated header", func(b []byte) []byte { return b[:HeaderSize/2] }},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-FooterSize-3] }},
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xff; return b }},
		{"future version", func(b []byte) []byte { b[4] = 9; return b }},
		{"flipped payload byte", func(b []byte) []byte { b[HeaderSize+2] ^= 0x01; return b }},
		{"bad checksum", func(b []byte) []byte { b[len(b)-FooterSize] ^= 0x01; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path, err := Write(dir, c.Fingerprint(), m)
			if err != nil {
				t.Fatal(err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, tt.mangle(data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, _, err := Read(path, c.Fingerprint()); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestReadMissing(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), FileName), corpus.Fingerprint{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestWriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	c, m := testCorpus(t)
	if _, err := Write(dir, c.Fingerprint(), m); err != nil {
		t.Fatal(err)
	}
	other, err := corpus.New([]corpus.Pair{{Question: "billing invoice", Answer: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	m2 := tfidf.Build(other.ProcessedQuestions())
	path, err := Write(dir, other.Fingerprint(), m2)
	if err != nil {
		t.Fatal(err)
	}
	header, err := ReadHeader(path)
	if err != nil {
		t.Fatal(err)
	}
	if header.Fingerprint != other.Fingerprint() || header.DocCount != 1 {
		t.Errorf("header not replaced: %+v", header)
	}
}
