package wire

import (
	"net"
	"testing"
)

func pipeCodecs() (*Codec, *Codec) {
	a, b := net.Pipe()
	return New(a), New(b)
}

func TestIntRoundTrip(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	go func() {
		client.WriteInt(42)
	}()

	got := server.ReadInt()
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	go func() {
		client.WriteDouble(1000000.0)
	}()

	got := server.ReadDouble()
	if got != 1000000.0 {
		t.Fatalf("got %v, want 1000000.0", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	go func() {
		client.WriteString("testkey")
	}()

	got := server.ReadString()
	if got != "testkey" {
		t.Fatalf("got %q, want %q", got, "testkey")
	}
}

func TestMappingRoundTrip(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	want := map[string]string{"k1": "v1", "k2": "v2"}
	go func() {
		client.WriteMapping(want)
	}()

	got := server.ReadMapping()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("got[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestMappingSkipsMalformedLine(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	go func() {
		client.writeLine("noequals")
		client.writeLine("offset=0.5")
		client.writeLine("=")
	}()

	got := server.ReadMapping()
	if len(got) != 1 || got["offset"] != "0.5" {
		t.Fatalf("got %v, want map[offset:0.5]", got)
	}
}

func TestStrSequenceRoundTrip(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	want := []string{"ant1", "ant2"}
	go func() {
		client.WriteStrSequence(want)
	}()

	got := server.ReadStrSequence()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmptyStrSequence(t *testing.T) {
	client, server := pipeCodecs()
	defer client.Close()
	defer server.Close()

	go func() {
		client.WriteStrSequence(nil)
	}()

	got := server.ReadStrSequence()
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestStickyErrorAfterReadFailure(t *testing.T) {
	client, server := pipeCodecs()
	client.Close()
	defer server.Close()

	if got := server.ReadInt(); got != -1 {
		t.Fatalf("got %d, want -1 after peer closed", got)
	}
	if server.Err() == nil {
		t.Fatalf("expected sticky error to be set")
	}
	// Subsequent calls must also be no-ops returning sentinels.
	if got := server.ReadInt(); got != -1 {
		t.Fatalf("got %d, want -1 on second call after latch", got)
	}
	if got := server.WriteInt(7); got != -1 {
		t.Fatalf("got %d, want -1 writing after latch", got)
	}
}
