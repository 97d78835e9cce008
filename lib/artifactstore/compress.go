// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifactstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm a blob was compressed with.
// Stored as the first byte of every blob file; changing these values
// breaks existing on-disk artifacts.
type CompressionTag uint8

const (
	// CompressionNone is used for already-compressed or tiny content
	// where compression would not pay for itself.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is the default for mixed/binary content such as
	// diff.patch — content type unknown or mixed, fast decode.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is used for text-like content (plan.md,
	// diff-stat.txt) where the better ratio is worth the extra CPU.
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifactstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifactstore: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses data with tag. CompressionNone returns data
// unchanged, and so does any tag whose output would not be smaller.
func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("artifactstore: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return data, nil // incompressible; Put stores it tagged CompressionNone
		}
		return dst[:n], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return data, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("artifactstore: unsupported compression tag: %d", tag)
	}
}

// decompress reverses compress. uncompressedSize must be the exact
// original length.
func decompress(data []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("artifactstore: lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("artifactstore: lz4 decompress: got %d bytes, want %d", n, uncompressedSize)
		}
		return dst, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("artifactstore: zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("artifactstore: zstd decompress: got %d bytes, want %d", len(result), uncompressedSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("artifactstore: unsupported compression tag: %d", tag)
	}
}

// selectCompression picks LZ4 for diff-shaped binary/mixed content and
// zstd for markdown/text, matching the teacher's content-type-first
// selection in its own chunked store before falling back to probing.
func selectCompression(name string) CompressionTag {
	switch name {
	case "plan.md", "diff-stat.txt":
		return CompressionZstd
	case "diff.patch":
		return CompressionLZ4
	default:
		return CompressionLZ4
	}
}
