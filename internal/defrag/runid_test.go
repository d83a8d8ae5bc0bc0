package defrag

import "testing"

func TestRunID_StringRoundTripsThroughParse(t *testing.T) {
	id := NewRunID()
	parsed, err := ParseRunID(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("parsed = %v, want %v", parsed, id)
	}
}

func TestRunID_BytesLengthIsSixteen(t *testing.T) {
	id := NewRunID()
	if len(id.Bytes()) != 16 {
		t.Fatalf("len(Bytes()) = %d, want 16", len(id.Bytes()))
	}
}

func TestRunID_DistinctCallsProduceDistinctIDs(t *testing.T) {
	if NewRunID() == NewRunID() {
		t.Fatal("expected two consecutive NewRunID() calls to differ")
	}
}

func TestParseRunID_RejectsMalformedString(t *testing.T) {
	if _, err := ParseRunID("not-a-uuid"); err == nil {
		t.Fatal("expected an error parsing a malformed run ID string")
	}
}
