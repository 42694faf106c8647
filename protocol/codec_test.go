package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestReaderSkipsEmptyLines(t *testing.T) {
	r := NewReader(strings.NewReader("\n\n{\"type\":\"ListPlugins\"}\n\n"))

	req, err := r.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest() failed: %v", err)
	}
	if req.Type != ReqListPlugins {
		t.Errorf("expected type %s, got %s", ReqListPlugins, req.Type)
	}

	if _, err := r.ReadRequest(); err != io.EOF {
		t.Errorf("expected io.EOF after last line, got %v", err)
	}
}

func TestReaderMalformedLineIsError(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n"))

	if _, err := r.ReadRequest(); err == nil {
		t.Fatalf("expected decode error for malformed line")
	}
}

func TestReaderMalformedLineDoesNotPoisonStream(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n{\"type\":\"ListPlugins\"}\n"))

	if _, err := r.ReadRequest(); err == nil {
		t.Fatalf("expected decode error for first line")
	}

	req, err := r.ReadRequest()
	if err != nil {
		t.Fatalf("expected subsequent ReadRequest to succeed, got %v", err)
	}
	if req.Type != ReqListPlugins {
		t.Errorf("expected type %s, got %s", ReqListPlugins, req.Type)
	}
}

func TestWriterWritesSingleLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteResponse(Success()); err != nil {
		t.Fatalf("WriteResponse() failed: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected exactly one newline, got %q", out)
	}
	if strings.Contains(out, `"type"`) {
		t.Errorf("Response must be written bare with no envelope, got %q", out)
	}
}

func TestWriterEventIsFlatEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	ev := NewEvent("metrics.cpu", "beta", json.RawMessage(`{"v":0.5}`), 42)
	if err := w.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimRight(buf.Bytes(), "\n"), &decoded); err != nil {
		t.Fatalf("failed to decode written event: %v", err)
	}
	if decoded["type"] != "Event" {
		t.Errorf("expected flat type=Event, got %v", decoded["type"])
	}
	if decoded["topic"] != "metrics.cpu" {
		t.Errorf("expected topic at top level, got %v", decoded["topic"])
	}
}

func TestDecodeIncomingDiscriminatesResponseVsEvent(t *testing.T) {
	resp, event, err := DecodeIncoming(`{"status":"Success","data":null}`)
	if err != nil || resp == nil || event != nil {
		t.Fatalf("expected Response, got resp=%v event=%v err=%v", resp, event, err)
	}

	resp, event, err = DecodeIncoming(`{"type":"Event","topic":"t","source":"s","data":1,"timestamp":1}`)
	if err != nil || event == nil || resp != nil {
		t.Fatalf("expected Event, got resp=%v event=%v err=%v", resp, event, err)
	}
}

func TestDecodeIncomingRejectsUnrecognizedShape(t *testing.T) {
	if _, _, err := DecodeIncoming(`{"foo":"bar"}`); err == nil {
		t.Fatalf("expected error for unrecognized shape")
	}
}
