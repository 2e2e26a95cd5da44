// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"testing"
)

func TestParseRecordsRoundTrip(t *testing.T) {
	var data []byte
	data = appendRecord(data, recordTypeEvent, []byte("first"))
	data = appendRecord(data, 0x7f00, []byte("from a newer writer"))
	data = appendRecord(data, recordTypeEvent, nil)

	records, valid, err := parseRecords(data)
	if err != nil {
		t.Fatalf("parseRecords: %v", err)
	}
	if valid != len(data) {
		t.Errorf("valid length = %d, want %d", valid, len(data))
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].kind != recordTypeEvent || string(records[0].payload) != "first" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].kind != 0x7f00 {
		t.Errorf("record 1 kind = %#x, want 0x7f00", records[1].kind)
	}
	if len(records[2].payload) != 0 {
		t.Errorf("record 2 payload = %q, want empty", records[2].payload)
	}
}

func TestParseRecordsStopsAtDamage(t *testing.T) {
	var data []byte
	data = appendRecord(data, recordTypeEvent, []byte("kept"))
	firstLength := len(data)
	data = appendRecord(data, recordTypeEvent, []byte("damaged"))

	for _, cut := range []int{1, recordDigestSize, recordDigestSize + 3, len(data) - firstLength - 1} {
		records, valid, err := parseRecords(data[:len(data)-cut])
		if !errors.Is(err, ErrCorruptBatch) {
			t.Errorf("cut %d: err = %v, want ErrCorruptBatch", cut, err)
		}
		if len(records) != 1 || valid != firstLength {
			t.Errorf("cut %d: %d records valid to %d, want 1 record valid to %d", cut, len(records), valid, firstLength)
		}
	}

	corrupted := append([]byte(nil), data...)
	corrupted[firstLength+recordHeaderSize] ^= 0x01
	records, _, err := parseRecords(corrupted)
	if !errors.Is(err, ErrCorruptBatch) || len(records) != 1 {
		t.Errorf("bit flip: %d records, err %v", len(records), err)
	}
}

func TestRecordDigestCoversTypeAndPayload(t *testing.T) {
	base := appendRecord(nil, recordTypeEvent, []byte("payload"))
	otherPayload := appendRecord(nil, recordTypeEvent, []byte("payloaD"))
	otherType := appendRecord(nil, recordTypeEncryptedEvent, []byte("payload"))

	digest := string(base[len(base)-recordDigestSize:])
	if digest == string(otherPayload[len(otherPayload)-recordDigestSize:]) {
		t.Error("digest does not cover the payload")
	}
	if digest == string(otherType[len(otherType)-recordDigestSize:]) {
		t.Error("digest does not cover the record type")
	}
}
