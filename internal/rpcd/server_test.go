package rpcd

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	_ "github.com/sdrhost/sdrd/internal/device/sim"
	"github.com/sdrhost/sdrd/internal/wire"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	srv, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	a, err := srv.Addr()
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}

	// Run blocks in unix.Poll with no cooperative shutdown path (spec:
	// there is no remote shutdown operation), so tests don't wait for
	// it to return — Close tears down the sockets and the goroutine is
	// left to exit with the test binary.
	go srv.Run()

	return a, srv.Close
}

func dialControl(t *testing.T, addr string) *wire.Codec {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("0\n")); err != nil {
		t.Fatalf("writing kind digit: %v", err)
	}
	return wire.New(conn)
}

func loadTestDriver(t *testing.T, c *wire.Codec) {
	t.Helper()
	c.WriteString("testdriver")
	c.WriteString("k1=v1/k2=v2")
	if fd := c.ReadInt(); fd < 0 {
		t.Fatalf("driver load rejected")
	}
}

func dialData(t *testing.T, addr string, digit byte) (net.Conn, int) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial data: %v", err)
	}
	if _, err := conn.Write([]byte{digit, '\n'}); err != nil {
		t.Fatalf("writing kind digit: %v", err)
	}
	line := readRawLine(t, conn)
	id, err := strconv.Atoi(line)
	if err != nil {
		t.Fatalf("parsing data id %q: %v", line, err)
	}
	return conn, id
}

func readRawLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	buf := make([]byte, 0, 16)
	one := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := conn.Read(one)
		if err != nil {
			t.Fatalf("reading line: %v", err)
		}
		if n == 0 {
			continue
		}
		if one[0] == '\n' {
			return string(buf)
		}
		buf = append(buf, one[0])
	}
}

// TestHandshakeAndHardwareKey covers spec scenario S1.
func TestHandshakeAndHardwareKey(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c := dialControl(t, addr)
	loadTestDriver(t, c)

	c.WriteInt(callGetHardwareKey)
	if got := c.ReadString(); got != "testkey" {
		t.Fatalf("hardware key = %q, want testkey", got)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("codec error: %v", err)
	}
}

// TestSetupStreamRejectsMissingSampleRate covers spec scenario S2.
func TestSetupStreamRejectsMissingSampleRate(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c := dialControl(t, addr)
	loadTestDriver(t, c)

	_, dataID := dialData(t, addr, '2')

	c.WriteInt(callSetupStream)
	c.WriteInt(dataID)
	c.WriteInt(0) // direction RX
	c.WriteString("CS16")
	c.WriteString("0 1")
	c.WriteMapping(nil)

	if got := c.ReadInt(); got != -3 {
		t.Fatalf("setup_stream reply = %d, want -3", got)
	}
}

// TestSetSampleRateSetupActivateReceiveDeactivate covers spec
// scenario S3, at a reduced sample rate so the test runs quickly.
func TestSetSampleRateSetupActivateReceiveDeactivate(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c := dialControl(t, addr)
	loadTestDriver(t, c)

	dataConn, dataID := dialData(t, addr, '2')
	defer dataConn.Close()

	const rate = 40.0 // small enough that a 4 Hz block is a handful of samples
	c.WriteInt(callSetSampleRate)
	c.WriteInt(0)
	c.WriteInt(0)
	c.WriteDouble(rate)
	if got := c.ReadInt(); got != 0 {
		t.Fatalf("set_sample_rate reply = %d, want 0", got)
	}

	c.WriteInt(callSetupStream)
	c.WriteInt(dataID)
	c.WriteInt(0)
	c.WriteString("CS16")
	c.WriteString("0 1")
	c.WriteMapping(nil)
	if got := c.ReadInt(); got != dataID {
		t.Fatalf("setup_stream reply = %d, want %d", got, dataID)
	}

	c.WriteInt(callActivateStream)
	c.WriteInt(dataID)
	if got := c.ReadInt(); got != 0 {
		t.Fatalf("activate_stream reply = %d, want 0", got)
	}

	dataConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 8)
	n, err := io.ReadFull(dataConn, buf)
	if err != nil || n != 8 {
		t.Fatalf("reading pumped frame: n=%d err=%v", n, err)
	}

	c.WriteInt(callDeactivateStream)
	c.WriteInt(dataID)
	if got := c.ReadInt(); got != 0 {
		t.Fatalf("deactivate_stream reply = %d, want 0", got)
	}
}

// TestGainRangeSentinel covers spec scenario S4.
func TestGainRangeSentinel(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c := dialControl(t, addr)
	loadTestDriver(t, c)

	c.WriteInt(callGetGainRange)
	c.WriteInt(0)
	c.WriteInt(0)

	min := c.ReadDouble()
	max := c.ReadDouble()
	step := c.ReadDouble()
	if min != 0 || max != 50 || step != 1 {
		t.Fatalf("range = (%v, %v, %v), want (0, 50, 1)", min, max, step)
	}
	sMin := c.ReadDouble()
	sMax := c.ReadDouble()
	sStep := c.ReadDouble()
	if sMin != 0 || sMax != 0 || sStep != -1 {
		t.Fatalf("sentinel = (%v, %v, %v), want (0, 0, -1)", sMin, sMax, sStep)
	}
}

// TestUnknownCallClosesConnection covers spec scenario S5: an unknown
// call code gets -1000 on the connection it arrived on, then the
// dispatcher signals fatal and the whole accept loop exits.
func TestUnknownCallClosesConnection(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	addr, err := srv.Addr()
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}

	exitCode := make(chan ExitCode, 1)
	go func() { exitCode <- srv.Run() }()

	c := dialControl(t, addr)
	loadTestDriver(t, c)

	c.WriteInt(99999)
	if got := c.ReadInt(); got != replyUnknownCall {
		t.Fatalf("unknown call reply = %d, want %d", got, replyUnknownCall)
	}

	// The connection is closed server-side; a further read must fail.
	c.ReadInt()
	if c.Err() == nil {
		t.Fatalf("expected codec to latch after server closed the connection")
	}

	select {
	case code := <-exitCode:
		if code != ExitFatalDispatch {
			t.Fatalf("Run() exit code = %v, want ExitFatalDispatch", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after an unknown call code")
	}
}

// TestSetFrequencySkipsMalformedMappingLine covers spec scenario S6.
func TestSetFrequencySkipsMalformedMappingLine(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c := dialControl(t, addr)
	loadTestDriver(t, c)

	c.WriteInt(callSetFrequency)
	c.WriteInt(0)
	c.WriteInt(0)
	c.WriteDouble(100e6)
	// Hand-write the mapping body so it includes the malformed line
	// scenario S6 requires; WriteMapping itself never produces one.
	rawWriteLines(t, c, "noequals", "offset=0.5", "=")

	if got := c.ReadInt(); got != 0 {
		t.Fatalf("set_frequency reply = %d, want 0", got)
	}
}

// rawWriteLines writes lines directly through the codec's exported
// string writer, one call per line, to construct a mapping body with
// a deliberately malformed line in the middle — WriteString writes
// the exact same bytes WriteMapping would for each line, including
// the lone "=" terminator.
func rawWriteLines(t *testing.T, c *wire.Codec, lines ...string) {
	t.Helper()
	for _, l := range lines {
		c.WriteString(l)
	}
}
