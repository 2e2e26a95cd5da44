// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"testing"
	"time"
)

type droppedCall struct {
	viewID  string
	dropped Dropped
}

func newRecordingMapper(mappers Mappers) (*Mapper, *[]droppedCall) {
	var calls []droppedCall
	mapper := NewMapper(mappers, func(viewID string, dropped Dropped) {
		calls = append(calls, droppedCall{viewID, dropped})
	}, nil)
	return mapper, &calls
}

func dropAll(*Record) *Record { return nil }

func replace(record *Record) *Record { return record.Clone() }

func TestMapperKeepsUnmappedEvents(t *testing.T) {
	mapper, calls := newRecordingMapper(Mappers{})
	for kind := range kindNames {
		record := &Record{Kind: kind}
		if got := mapper.Map(record); got != record {
			t.Errorf("%s: Map returned %p, want the original %p", kind, got, record)
		}
	}
	if len(*calls) != 0 {
		t.Errorf("drops reported without mappers: %v", *calls)
	}
}

func TestMapperEditsInPlace(t *testing.T) {
	mapper, _ := newRecordingMapper(Mappers{
		Log: func(record *Record) *Record {
			record.Message = "[redacted]"
			return record
		},
	})
	record := &Record{Kind: KindLog, Message: "password=hunter2"}
	got := mapper.Map(record)
	if got != record || got.Message != "[redacted]" {
		t.Fatalf("Map = %+v, want the edited original", got)
	}
}

func TestMapperDropsOnNil(t *testing.T) {
	mapper, calls := newRecordingMapper(Mappers{Action: dropAll, Resource: dropAll})

	action := &Record{Kind: KindAction, ViewID: "view-1", Frustrations: []string{"rage_click", "dead_click"}}
	if got := mapper.Map(action); got != nil {
		t.Fatalf("Map(action) = %+v, want nil", got)
	}
	resource := &Record{Kind: KindResource, ViewID: "view-1"}
	if got := mapper.Map(resource); got != nil {
		t.Fatalf("Map(resource) = %+v, want nil", got)
	}

	want := []droppedCall{
		{"view-1", Dropped{Kind: KindAction, FrustrationCount: 2}},
		{"view-1", Dropped{Kind: KindResource}},
	}
	if len(*calls) != len(want) {
		t.Fatalf("drops = %v, want %v", *calls, want)
	}
	for i := range want {
		if (*calls)[i] != want[i] {
			t.Errorf("drop %d = %+v, want %+v", i, (*calls)[i], want[i])
		}
	}
}

func TestMapperDropsDifferentInstance(t *testing.T) {
	mapper, calls := newRecordingMapper(Mappers{LongTask: replace})

	record := &Record{Kind: KindLongTask, ViewID: "v", IsFrozenFrame: true}
	if got := mapper.Map(record); got != nil {
		t.Fatalf("Map = %+v, want nil for a replaced record", got)
	}
	if len(*calls) != 1 || (*calls)[0].dropped != (Dropped{Kind: KindLongTask, FrozenFrame: true}) {
		t.Fatalf("drops = %v, want one frozen frame", *calls)
	}
}

func TestMapperNeverDropsViews(t *testing.T) {
	for name, viewMapper := range map[string]MapFunc{"nil": dropAll, "replaced": replace} {
		t.Run(name, func(t *testing.T) {
			mapper, calls := newRecordingMapper(Mappers{View: viewMapper})
			view := &Record{Kind: KindView, ViewID: "v", Name: "Checkout"}
			if got := mapper.Map(view); got != view {
				t.Fatalf("Map(view) = %p, want original %p", got, view)
			}
			if len(*calls) != 0 {
				t.Errorf("view drop reported: %v", *calls)
			}
		})
	}
}

func TestCrashBypassesErrorMapper(t *testing.T) {
	called := 0
	mapper, _ := newRecordingMapper(Mappers{Error: func(*Record) *Record {
		called++
		return nil
	}})

	crash := &Record{Kind: KindError, IsCrash: true}
	if got := mapper.Map(crash); got != crash {
		t.Fatalf("crash was not kept")
	}
	if called != 0 {
		t.Fatalf("error mapper ran for a crash")
	}

	handled := &Record{Kind: KindError}
	if got := mapper.Map(handled); got != nil {
		t.Fatalf("handled error was not dropped")
	}
	if called != 1 {
		t.Fatalf("error mapper ran %d times, want 1", called)
	}
}

func TestTelemetryEventsAreNeverMapped(t *testing.T) {
	mapper, _ := newRecordingMapper(Mappers{
		Log: dropAll, Error: dropAll, TelemetryConfiguration: dropAll,
	})
	for _, kind := range []Kind{KindTelemetryDebug, KindTelemetryError} {
		record := &Record{Kind: kind}
		if got := mapper.Map(record); got != record {
			t.Errorf("%s was mapped", kind)
		}
	}
	configuration := &Record{Kind: KindTelemetryConfiguration}
	if got := mapper.Map(configuration); got != nil {
		t.Errorf("telemetry configuration mapper was not applied")
	}
}

func TestUnknownKindKept(t *testing.T) {
	mapper, _ := newRecordingMapper(Mappers{})
	record := &Record{Kind: Kind(200)}
	if got := mapper.Map(record); got != record {
		t.Fatal("unknown kind was not kept")
	}
}

func TestRecordEncodeDecode(t *testing.T) {
	record := &Record{
		Kind:       KindResource,
		Date:       time.UnixMilli(1767225600123),
		Service:    "checkout",
		ViewID:     "view-9",
		Name:       "https://api.example.com/cart",
		Duration:   250 * time.Millisecond,
		Attributes: map[string]any{"status_code": float64(200)},
	}
	data, err := record.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s): %v", data, err)
	}
	if decoded.Kind != KindResource || decoded.Name != record.Name || decoded.ViewID != "view-9" {
		t.Errorf("decoded = %+v", decoded)
	}
	if !decoded.Date.Equal(record.Date) || decoded.Duration != record.Duration {
		t.Errorf("decoded date %v duration %v", decoded.Date, decoded.Duration)
	}
	if decoded.Attributes["status_code"] != float64(200) {
		t.Errorf("attributes = %v", decoded.Attributes)
	}
}

func TestDecodeHandWrittenLine(t *testing.T) {
	record, err := Decode([]byte(`{"type":"log","status":"warn","message":"disk almost full","date":1767225600000}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if record.Kind != KindLog || record.Status != "warn" || record.Message != "disk almost full" {
		t.Errorf("record = %+v", record)
	}
	if record.Date.UnixMilli() != 1767225600000 {
		t.Errorf("date = %v", record.Date)
	}
}
