package fio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm applied to payloads before encryption.
type Compression uint8

const (
	// CompressionNone stores payloads uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, lighter ratio).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses ZSTD block compression (better ratio).
	CompressionZstd Compression = 2
)

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
	lz4Pool         sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func getLZ4Compressor() *lz4.Compressor {
	if v := lz4Pool.Get(); v != nil {
		return v.(*lz4.Compressor)
	}
	return &lz4.Compressor{}
}

// Envelope format: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 means the data is stored uncompressed (the algorithm
// did not pay for itself on this payload).
const envelopeHeaderSize = 8

// compress wraps data in a compression envelope. Payloads that compress to
// more than 90% of their original size are stored uncompressed.
func compress(data []byte, algo Compression) ([]byte, error) {
	if algo == CompressionNone {
		return stored(data), nil
	}

	var compressed []byte
	switch algo {
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		buf := make([]byte, bound)
		c := getLZ4Compressor()
		n, err := c.CompressBlock(data, buf)
		lz4Pool.Put(c)
		if err != nil {
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		compressed = buf[:n]
	case CompressionZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown compression %q", algo)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		return stored(data), nil
	}

	out := make([]byte, envelopeHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[envelopeHeaderSize:], compressed)
	return out, nil
}

func stored(data []byte) []byte {
	out := make([]byte, envelopeHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], 0)
	copy(out[envelopeHeaderSize:], data)
	return out
}

// decompress unwraps a compression envelope produced by compress.
func decompress(data []byte, algo Compression) ([]byte, error) {
	if len(data) < envelopeHeaderSize {
		return nil, errors.New("envelope too small for header")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])

	if compressedSize == 0 {
		if uint32(len(data)) < envelopeHeaderSize+uncompressedSize {
			return nil, errors.New("envelope data truncated")
		}
		return data[envelopeHeaderSize : envelopeHeaderSize+uncompressedSize], nil
	}

	if uint32(len(data)) < envelopeHeaderSize+compressedSize {
		return nil, errors.New("compressed envelope data truncated")
	}
	body := data[envelopeHeaderSize : envelopeHeaderSize+compressedSize]

	switch algo {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if uint32(n) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(body, make([]byte, 0, uncompressedSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		if uint32(len(out)) != uncompressedSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", algo)
	}
}
