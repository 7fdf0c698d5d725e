package rtltcp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// fakeDaemon starts a listener that speaks just enough of the rtl_tcp
// protocol for New/ReadStream to exercise: it writes the dongle-info
// header, then streams an endless sequence of 128 bytes (the rtl_tcp
// DC-centered value for silence) in response to any connection.
func fakeDaemon(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		info := dongleInfo{Magic: dongleMagic, Tuner: 5, GainCount: 29}
		if err := binary.Write(conn, binary.BigEndian, info); err != nil {
			return
		}

		buf := make([]byte, 4096)
		for i := range buf {
			buf[i] = 128
		}
		for {
			if _, err := conn.Write(buf); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String()
}

func TestNewReadsDongleInfo(t *testing.T) {
	addr := fakeDaemon(t)
	d, err := New(map[string]string{"addr": addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info := d.HardwareInfo()
	if info["gain_count"] != "29" {
		t.Fatalf("got gain_count=%q, want 29", info["gain_count"])
	}
}

func TestReadStreamRebiasesToSigned(t *testing.T) {
	addr := fakeDaemon(t)
	dev, err := New(map[string]string{"addr": addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := dev.(*Device)

	h, err := d.SetupStream(0, "CS8", []int{0}, nil)
	if err != nil {
		t.Fatalf("SetupStream: %v", err)
	}
	if err := d.ActivateStream(h); err != nil {
		t.Fatalf("ActivateStream: %v", err)
	}

	buf := [][]byte{make([]byte, 20)}
	n, err := d.ReadStream(h, buf, 10, time.Second)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if n != 10 {
		t.Fatalf("n = %d, want 10", n)
	}
	for i, b := range buf[0] {
		if b != 0 {
			t.Fatalf("buf[0][%d] = %d, want 0 (128 rebiased)", i, b)
		}
	}
}
