// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how an event payload is compressed. The
// tag is the first byte of every encoded payload; values are part of
// the file format.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
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

// ParseCompressionTag parses "none", "lz4" or "zstd". The empty
// string means none.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("incompressible")

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// payloadCodec turns event bytes into record payloads and back.
type payloadCodec struct {
	compression CompressionTag
	identity    *age.X25519Identity
}

func newPayloadCodec(compression CompressionTag, identityString string) (*payloadCodec, error) {
	c := &payloadCodec{compression: compression}
	if identityString != "" {
		identity, err := parseIdentity(identityString)
		if err != nil {
			return nil, err
		}
		c.identity = identity
	}
	return c, nil
}

func parseIdentity(identityString string) (*age.X25519Identity, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(identityString))
	if err != nil {
		return nil, fmt.Errorf("storage: parsing encryption identity: %w", err)
	}
	return identity, nil
}

// encode returns the record type and payload for event.
func (c *payloadCodec) encode(event []byte) (recordType, []byte, error) {
	tag := c.compression
	body, err := compress(event, tag)
	if errors.Is(err, errIncompressible) {
		tag, body = CompressionNone, event
	} else if err != nil {
		return 0, nil, err
	}

	payload := make([]byte, 0, 1+binary.MaxVarintLen64+len(body))
	payload = append(payload, byte(tag))
	payload = binary.AppendUvarint(payload, uint64(len(event)))
	payload = append(payload, body...)

	if c.identity == nil {
		return recordTypeEvent, payload, nil
	}
	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, c.identity.Recipient())
	if err != nil {
		return 0, nil, fmt.Errorf("storage: encrypting event: %w", err)
	}
	if _, err := writer.Write(payload); err != nil {
		return 0, nil, fmt.Errorf("storage: encrypting event: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, nil, fmt.Errorf("storage: encrypting event: %w", err)
	}
	return recordTypeEncryptedEvent, sealed.Bytes(), nil
}

// decode reverses encode.
func (c *payloadCodec) decode(kind recordType, payload []byte) ([]byte, error) {
	if kind == recordTypeEncryptedEvent {
		if c.identity == nil {
			return nil, fmt.Errorf("%w: no encryption identity is configured", ErrNoDecryptionKey)
		}
		reader, err := age.Decrypt(bytes.NewReader(payload), c.identity)
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, fmt.Errorf("%w: %v", ErrNoDecryptionKey, err)
		}
		if err != nil {
			return nil, fmt.Errorf("decrypting event: %w", err)
		}
		payload, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("decrypting event: %w", err)
		}
	}

	if len(payload) < 2 {
		return nil, fmt.Errorf("event payload too short (%d bytes)", len(payload))
	}
	tag := CompressionTag(payload[0])
	rawLength, n := binary.Uvarint(payload[1:])
	if n <= 0 {
		return nil, errors.New("malformed event length")
	}
	return decompress(payload[1+n:], tag, int(rawLength))
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(body []byte, tag CompressionTag, rawLength int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(body) != rawLength {
			return nil, fmt.Errorf("uncompressed event: size %d does not match expected %d", len(body), rawLength)
		}
		return body, nil
	case CompressionLZ4:
		destination := make([]byte, rawLength)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawLength {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLength)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawLength))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawLength {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLength)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
