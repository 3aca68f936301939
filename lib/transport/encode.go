// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/apm/lib/codec"
	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/schema/apm"
)

// ContentType is the media type of an intake request body before
// compression.
const ContentType = "application/cbor"

// Request is one encoded intake batch, ready for a Sender.
type Request struct {
	// Body is the compressed CBOR encoding of the batch.
	Body []byte

	// Encoding is the Content-Encoding of Body: "zstd", "lz4", or
	// empty when uncompressed.
	Encoding string

	// Digest is the hex BLAKE3-256 digest of the uncompressed body.
	// A collector can use it to discard a batch it already accepted
	// when a retry follows a lost response.
	Digest string

	// Events is the number of events in the batch.
	Events int

	// Flushed marks the final batch of a serverless invocation.
	Flushed bool
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBody))
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeRequest encodes batch and compresses it with the named
// algorithm (config.CompressionZstd, CompressionLZ4 or CompressionNone).
func EncodeRequest(batch *apm.Batch, compression string) (*Request, error) {
	body, err := codec.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	digest := blake3.Sum256(body)
	request := &Request{
		Digest:  hex.EncodeToString(digest[:]),
		Events:  len(batch.Events),
		Flushed: batch.Flushed,
	}

	switch compression {
	case config.CompressionZstd:
		request.Body = zstdEncoder.EncodeAll(body, nil)
		request.Encoding = config.CompressionZstd
	case config.CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(body); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		request.Body = buffer.Bytes()
		request.Encoding = config.CompressionLZ4
	case config.CompressionNone, "":
		request.Body = body
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	return request, nil
}

// ErrDigestMismatch is returned by DecodeRequest when the body does not
// hash to the declared digest.
var ErrDigestMismatch = errors.New("batch digest mismatch")

// maxDecodedBody bounds decompression so a hostile body cannot expand
// without limit.
const maxDecodedBody = 64 << 20

// DecodeRequest decompresses an intake body, verifies its digest when
// one is given, and decodes the batch.
func DecodeRequest(body []byte, encoding, digest string) (*apm.Batch, error) {
	var raw []byte
	switch encoding {
	case "", "identity":
		raw = body
	case config.CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		raw = decoded
	case config.CompressionLZ4:
		decoded, err := io.ReadAll(io.LimitReader(lz4.NewReader(bytes.NewReader(body)), maxDecodedBody+1))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		raw = decoded
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if len(raw) > maxDecodedBody {
		return nil, fmt.Errorf("decoded batch exceeds %d bytes", maxDecodedBody)
	}

	if digest != "" {
		sum := blake3.Sum256(raw)
		if hex.EncodeToString(sum[:]) != digest {
			return nil, ErrDigestMismatch
		}
	}

	var batch apm.Batch
	if err := codec.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}
	return &batch, nil
}
