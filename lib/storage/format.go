// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// recordType identifies the content of a framed record.
type recordType uint16

const (
	recordTypeEvent          recordType = 0x0001
	recordTypeEncryptedEvent recordType = 0x0002
)

const (
	recordHeaderSize = 2 + 4
	recordDigestSize = 8

	// recordOverhead is the framing cost added to every payload.
	recordOverhead = recordHeaderSize + recordDigestSize
)

// recordDomainKey is the BLAKE3 key for record digests: the ASCII
// domain name zero-padded to 32 bytes.
var recordDomainKey = [32]byte{
	's', 'p', 'o', 'o', 'l', '.', 'b', 'a', 't', 'c', 'h', '.',
	'r', 'e', 'c', 'o', 'r', 'd',
}

// record is one decoded frame.
type record struct {
	kind    recordType
	payload []byte
}

// appendRecord frames payload and appends it to buffer.
func appendRecord(buffer []byte, kind recordType, payload []byte) []byte {
	start := len(buffer)
	buffer = binary.LittleEndian.AppendUint16(buffer, uint16(kind))
	buffer = binary.LittleEndian.AppendUint32(buffer, uint32(len(payload)))
	buffer = append(buffer, payload...)
	digest := recordDigest(buffer[start:])
	return append(buffer, digest[:]...)
}

func recordDigest(headerAndPayload []byte) [recordDigestSize]byte {
	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("storage: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(headerAndPayload)
	var digest [recordDigestSize]byte
	sum := hasher.Sum(nil)
	copy(digest[:], sum)
	return digest
}

// parseRecords decodes the valid prefix of a batch file. It stops at
// the first truncated or corrupt record and reports how far it got;
// tailErr describes why the tail was discarded and is nil when the
// whole file decoded.
func parseRecords(data []byte) (records []record, validLength int, tailErr error) {
	offset := 0
	for offset < len(data) {
		remaining := len(data) - offset
		if remaining < recordOverhead {
			return records, offset, fmt.Errorf("%w: truncated record header at offset %d", ErrCorruptBatch, offset)
		}
		kind := recordType(binary.LittleEndian.Uint16(data[offset:]))
		length := int(binary.LittleEndian.Uint32(data[offset+2:]))
		if length < 0 || length > remaining-recordOverhead {
			return records, offset, fmt.Errorf("%w: truncated record at offset %d (length %d, %d bytes left)",
				ErrCorruptBatch, offset, length, remaining)
		}
		frameEnd := offset + recordHeaderSize + length
		expected := recordDigest(data[offset:frameEnd])
		var actual [recordDigestSize]byte
		copy(actual[:], data[frameEnd:frameEnd+recordDigestSize])
		if actual != expected {
			return records, offset, fmt.Errorf("%w: digest mismatch at offset %d", ErrCorruptBatch, offset)
		}
		records = append(records, record{
			kind:    kind,
			payload: data[offset+recordHeaderSize : frameEnd],
		})
		offset = frameEnd + recordDigestSize
	}
	return records, offset, nil
}
