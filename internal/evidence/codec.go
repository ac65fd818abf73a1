package evidence

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payloads are stored zstd compressed. Encoder and decoder are safe for
// concurrent use and are shared by every repository.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		panic("evidence: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("evidence: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(payload []byte) []byte {
	return zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
}

// decompress checks the result against size, which comes from disk and is
// never used to allocate.
func decompress(blob []byte, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("corrupt record: negative size %d", size)
	}
	out, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(out)) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
