package pool

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"qcache/internal/types"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
var dec, _ = zstd.NewReader(nil)

// Codec turns questions into pool entry bytes and back.
// Entries are JSON, optionally zstd compressed. Decode detects the zstd frame
// magic, so compressed and plain entries can coexist in one store.
type Codec struct {
	compress bool
}

func NewCodec(compress bool) Codec {
	return Codec{compress: compress}
}

func (c Codec) Encode(q types.Question) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("encode question %d: %w", q.ID, err)
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode question %d: %w", q.ID, err)
	}
	if !c.compress {
		return b, nil
	}
	return enc.EncodeAll(b, nil), nil
}

func (c Codec) Decode(b []byte) (types.Question, error) {
	if bytes.HasPrefix(b, zstdMagic) {
		raw, err := dec.DecodeAll(b, nil)
		if err != nil {
			return types.Question{}, fmt.Errorf("decompress entry: %w", err)
		}
		b = raw
	}
	var q types.Question
	if err := json.Unmarshal(b, &q); err != nil {
		return types.Question{}, fmt.Errorf("decode entry: %w", err)
	}
	if err := q.Validate(); err != nil {
		return types.Question{}, fmt.Errorf("decode entry: %w", err)
	}
	return q, nil
}
