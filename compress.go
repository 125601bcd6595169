package vigilo

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// CompressHTML deflates raw page bytes for storage. Returns nil for empty
// input.
func CompressHTML(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, flate.DefaultCompression)
	if err != nil {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

// DecompressHTML inflates a stored blob back to the original bytes. Returns
// nil for empty or corrupt input.
func DecompressHTML(blob []byte) []byte {
	if len(blob) == 0 {
		return nil
	}
	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return out
}
