// Package compress packs diagnostic blobs (summary, raw) stored with instances.
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func enc() *zstd.Encoder {
	encoderOnce.Do(func() {
		// only fails for invalid options.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func dec() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder
}

// Pack compresses b. Empty input is packed into empty output.
func Pack(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return enc().EncodeAll(b, make([]byte, 0, len(b)/2))
}

// Unpack reverses Pack.
func Unpack(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return dec().DecodeAll(b, nil)
}
