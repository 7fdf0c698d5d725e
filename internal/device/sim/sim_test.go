package sim

import (
	"testing"
	"time"

	"github.com/sdrhost/sdrd/internal/device"
)

func TestHardwareKey(t *testing.T) {
	d, err := New(map[string]string{"driver": "sim"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := d.HardwareKey(); got != "testkey" {
		t.Fatalf("HardwareKey() = %q, want %q", got, "testkey")
	}
}

func TestSetupActivateReadStream(t *testing.T) {
	d, err := New(map[string]string{"driver": "sim"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.SetSampleRate(device.RX, 0, 1000000); err != nil {
		t.Fatalf("SetSampleRate: %v", err)
	}

	h, err := d.SetupStream(device.RX, "CS16", []int{0, 1}, nil)
	if err != nil {
		t.Fatalf("SetupStream: %v", err)
	}
	if err := d.ActivateStream(h); err != nil {
		t.Fatalf("ActivateStream: %v", err)
	}

	buffers := [][]byte{make([]byte, 100*4), make([]byte, 100*4)}
	n, err := d.ReadStream(h, buffers, 100, time.Second)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if n != 100 {
		t.Fatalf("ReadStream returned n=%d, want 100", n)
	}

	if err := d.DeactivateStream(h); err != nil {
		t.Fatalf("DeactivateStream: %v", err)
	}
	if err := d.CloseStream(h); err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
}

func TestSetupStreamRejectsUnknownFormat(t *testing.T) {
	d, _ := New(map[string]string{"driver": "sim"})
	if _, err := d.SetupStream(device.RX, "BOGUS", []int{0}, nil); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestReadStreamFailsWhenNotActive(t *testing.T) {
	d, _ := New(map[string]string{"driver": "sim"})
	h, _ := d.SetupStream(device.RX, "CS16", []int{0}, nil)
	buffers := [][]byte{make([]byte, 400)}
	if n, err := d.ReadStream(h, buffers, 100, time.Second); err == nil || n >= 0 {
		t.Fatalf("expected failure reading inactive stream, got n=%d err=%v", n, err)
	}
}
