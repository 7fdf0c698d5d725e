// Package rtltcp drives an rtl_tcp daemon (the standard RTL-SDR
// spectrum server) as a single-channel Device. It speaks the same
// 12-byte dongle-info header and 5-byte command struct as the
// reference rtl_tcp clients in this codebase's lineage: on connect it
// reads the header, and every tuner control becomes a
// {command byte, big-endian uint32 parameter} write. Because rtl_tcp
// exposes real 8-bit unsigned IQ samples (CU8, not CS8), ReadStream
// rebiases them into the server's CS8 wire convention on the way out.
package rtltcp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sdrhost/sdrd/internal/device"
)

func init() {
	device.Register("rtltcp", New)
}

var dongleMagic = [4]byte{'R', 'T', 'L', '0'}

type dongleInfo struct {
	Magic     [4]byte
	Tuner     uint32
	GainCount uint32
}

type command struct {
	Cmd   uint8
	Param uint32
}

const (
	cmdCenterFreq = iota + 1
	cmdSampleRate
	cmdTunerGainMode
	cmdTunerGain
	cmdFreqCorrection
	cmdTunerIfGain
	cmdTestMode
	cmdAGCMode
	cmdDirectSampling
	cmdOffsetTuning
	cmdRTLXtalFreq
	cmdTunerXtalFreq
	cmdGainByIndex
)

// stream is the single stream type this driver supports: one RX
// channel, CS8-on-the-wire, decoded from rtl_tcp's native CU8 frames.
type stream struct {
	format string
	active bool
}

// Device wraps a TCP connection to an rtl_tcp daemon.
type Device struct {
	conn  net.Conn
	info  dongleInfo
	addr  string

	sampleRate float64
	frequency  float64
	gain       float64
	gainMode   bool

	stream *stream
}

// New dials the rtl_tcp daemon named by args["addr"] (default
// "127.0.0.1:1234") and reads its dongle-info header.
func New(args map[string]string) (device.Device, error) {
	addr := args["addr"]
	if addr == "" {
		addr = "127.0.0.1:1234"
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rtltcp: dial %s: %w", addr, err)
	}

	var info dongleInfo
	if err := binary.Read(conn, binary.BigEndian, &info); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtltcp: reading dongle info: %w", err)
	}
	if info.Magic != dongleMagic {
		conn.Close()
		return nil, fmt.Errorf("rtltcp: bad magic %q", info.Magic)
	}

	return &Device{
		conn:       conn,
		info:       info,
		addr:       addr,
		sampleRate: 2048000,
		frequency:  100e6,
	}, nil
}

func (d *Device) execute(cmd uint8, param uint32) error {
	return binary.Write(d.conn, binary.BigEndian, command{cmd, param})
}

func (d *Device) HardwareKey() string { return "rtltcp" }

func (d *Device) HardwareInfo() map[string]string {
	return map[string]string{
		"driver":     "rtltcp",
		"addr":       d.addr,
		"gain_count": fmt.Sprintf("%d", d.info.GainCount),
	}
}

func (d *Device) GetFrontendMapping(dir device.Direction) string                { return "" }
func (d *Device) SetFrontendMapping(dir device.Direction, mapping string) error { return nil }

func (d *Device) NumChannels(dir device.Direction) int {
	if dir == device.TX {
		return 0
	}
	return 1
}

func (d *Device) ChannelInfo(dir device.Direction, channel int) map[string]string {
	return map[string]string{"name": "CH0"}
}

func (d *Device) FullDuplex(dir device.Direction, channel int) bool { return false }

func (d *Device) StreamFormats(dir device.Direction, channel int) []string { return []string{"CS8"} }

func (d *Device) NativeStreamFormat(dir device.Direction, channel int) (string, float64) {
	return "CS8", 128.0
}

func (d *Device) StreamArgsInfo(dir device.Direction, channel int) []string { return nil }

func (d *Device) ListAntennas(dir device.Direction, channel int) []string { return []string{"RX"} }
func (d *Device) GetAntenna(dir device.Direction, channel int) string     { return "RX" }
func (d *Device) SetAntenna(dir device.Direction, channel int, name string) error { return nil }

func (d *Device) HasGainMode(dir device.Direction, channel int) bool { return true }

func (d *Device) GetGainMode(dir device.Direction, channel int) bool { return d.gainMode }

func (d *Device) SetGainMode(dir device.Direction, channel int, automatic bool) error {
	d.gainMode = automatic
	manual := uint32(1)
	if automatic {
		manual = 0
	}
	return d.execute(cmdTunerGainMode, manual)
}

func (d *Device) ListGains(dir device.Direction, channel int) []string { return []string{"TUNER"} }

func (d *Device) GetGain(dir device.Direction, channel int) float64 { return d.gain }

func (d *Device) SetGain(dir device.Direction, channel int, value float64) error {
	d.gain = value
	// rtl_tcp gain parameter is tenths of a dB.
	return d.execute(cmdTunerGain, uint32(value*10))
}

func (d *Device) GetGainElement(dir device.Direction, channel int, name string) float64 {
	return d.GetGain(dir, channel)
}

func (d *Device) SetGainElement(dir device.Direction, channel int, name string, value float64) error {
	return d.SetGain(dir, channel, value)
}

func (d *Device) GetGainRange(dir device.Direction, channel int) device.Range {
	return device.Range{Min: 0, Max: 49.6, Step: 0.1}
}

func (d *Device) GetGainElementRange(dir device.Direction, channel int, name string) device.Range {
	return d.GetGainRange(dir, channel)
}

func (d *Device) ListFrequencies(dir device.Direction, channel int) []string { return []string{"RF"} }

func (d *Device) GetFrequency(dir device.Direction, channel int) float64 { return d.frequency }

func (d *Device) SetFrequency(dir device.Direction, channel int, value float64, args map[string]string) error {
	d.frequency = value
	return d.execute(cmdCenterFreq, uint32(value))
}

func (d *Device) GetFrequencyElement(dir device.Direction, channel int, name string) float64 {
	return d.GetFrequency(dir, channel)
}

func (d *Device) SetFrequencyElement(dir device.Direction, channel int, name string, value float64, args map[string]string) error {
	return d.SetFrequency(dir, channel, value, args)
}

func (d *Device) GetFrequencyRange(dir device.Direction, channel int) []device.Range {
	return []device.Range{{Min: 24e6, Max: 1766e6, Step: 1}}
}

func (d *Device) GetFrequencyElementRange(dir device.Direction, channel int, name string) []device.Range {
	return d.GetFrequencyRange(dir, channel)
}

func (d *Device) GetSampleRate(dir device.Direction, channel int) float64 { return d.sampleRate }

func (d *Device) SetSampleRate(dir device.Direction, channel int, rate float64) error {
	d.sampleRate = rate
	return d.execute(cmdSampleRate, uint32(rate))
}

func (d *Device) GetSampleRateRange(dir device.Direction, channel int) []device.Range {
	return []device.Range{{Min: 225001, Max: 3200000, Step: 1}}
}

func (d *Device) SetupStream(dir device.Direction, format string, channels []int, args map[string]string) (device.StreamHandle, error) {
	if dir != device.RX {
		return nil, fmt.Errorf("rtltcp: transmit not supported")
	}
	if format != "CS8" {
		return nil, fmt.Errorf("rtltcp: unsupported format %q, only CS8", format)
	}
	if len(channels) != 1 || channels[0] != 0 {
		return nil, fmt.Errorf("rtltcp: only channel 0 is available")
	}
	s := &stream{format: format}
	d.stream = s
	return s, nil
}

func (d *Device) CloseStream(h device.StreamHandle) error {
	d.stream = nil
	return nil
}

func (d *Device) StreamMTU(h device.StreamHandle) int { return 16384 }

func (d *Device) ActivateStream(h device.StreamHandle) error {
	s, ok := h.(*stream)
	if !ok {
		return fmt.Errorf("rtltcp: bad stream handle")
	}
	s.active = true
	return nil
}

func (d *Device) DeactivateStream(h device.StreamHandle) error {
	s, ok := h.(*stream)
	if !ok {
		return fmt.Errorf("rtltcp: bad stream handle")
	}
	s.active = false
	return nil
}

// ReadStream reads numElems raw CU8 samples from the daemon and
// rebiases them to the server's signed CS8 wire convention
// (subtracting the 128 DC offset rtl_tcp's unsigned samples carry).
func (d *Device) ReadStream(h device.StreamHandle, buffers [][]byte, numElems int, timeout time.Duration) (int, error) {
	s, ok := h.(*stream)
	if !ok || !s.active {
		return -1, fmt.Errorf("rtltcp: stream not active")
	}
	if len(buffers) < 1 {
		return -1, fmt.Errorf("rtltcp: no buffer supplied")
	}

	need := numElems * 2
	raw := make([]byte, need)
	d.conn.SetReadDeadline(time.Now().Add(timeout))
	if _, err := io.ReadFull(d.conn, raw); err != nil {
		return -1, fmt.Errorf("rtltcp: read samples: %w", err)
	}

	dst := buffers[0]
	for i := 0; i < need; i++ {
		dst[i] = raw[i] - 128
	}
	return numElems, nil
}

func (d *Device) WriteStream(h device.StreamHandle, buffers [][]byte, numElems int, timeout time.Duration) (int, error) {
	return -1, fmt.Errorf("rtltcp: transmit not implemented")
}

func (d *Device) Unmake() error {
	return d.conn.Close()
}
