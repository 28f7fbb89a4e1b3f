package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	msg := NewSourceUpdate(SourceUpdate{
		URL:     "https://snopes.com/fact-check/1",
		Domain:  "snopes.com",
		Status:  StatusSupports,
		Verdict: "Verified true",
		Quote:   "Our investigation found no evidence to the contrary.",
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Recognized() {
		t.Fatal("expected SOURCE_UPDATE to be recognized")
	}
	if decoded.Payload == nil {
		t.Fatal("expected payload")
	}
	if decoded.Payload.URL != msg.Payload.URL {
		t.Errorf("expected url %s, got %s", msg.Payload.URL, decoded.Payload.URL)
	}
	if decoded.Payload.Status != StatusSupports {
		t.Errorf("expected status supports, got %s", decoded.Payload.Status)
	}
}

func TestDecodeUnrecognizedTag(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"FUTURE_FEATURE","extra":42}`))
	if err != nil {
		t.Fatalf("unknown tags must not be decode errors: %v", err)
	}
	if decoded.Recognized() {
		t.Error("expected FUTURE_FEATURE to be unrecognized")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestSourceStatusTerminal(t *testing.T) {
	cases := []struct {
		status   SourceStatus
		terminal bool
	}{
		{StatusAnalyzing, false},
		{StatusSupports, true},
		{StatusDebunks, true},
		{StatusNeutral, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s: expected terminal=%v, got %v", tc.status, tc.terminal, got)
		}
	}
}

func TestChunkOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(StreamEnd())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1 {
		t.Errorf("expected bare tag, got %v", raw)
	}
}
