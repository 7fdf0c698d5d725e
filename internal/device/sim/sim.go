// Package sim implements a synthetic multi-channel tone-generator
// device used as the "testdriver" in tests and for manual exercising
// of the server without real hardware. It is grounded on the
// teacher's RunSimulator/dummy_streamer DDS tone generator, adapted
// from a named-pipe byte producer into an in-process Device that
// fills caller-supplied channel buffers directly.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sdrhost/sdrd/internal/device"
)

func init() {
	device.Register("sim", New)
	device.Register("testdriver", New) // matches the name spec scenario S1 dials by
}

const (
	numChannelsDefault = 2
	toneFreqHz         = 10e3 // offset tone relative to center, for visual distinctiveness
)

// stream is the concrete StreamHandle returned by SetupStream.
type stream struct {
	dir      device.Direction
	format   string
	channels []int
	active   bool
	phase    float64
}

// Device is a synthetic SDR with one RX "channel group" producing a
// pure tone per channel, phase-offset by channel index, matching the
// teacher's per-channel phase-offset tone pattern.
type Device struct {
	mu sync.Mutex

	numChannels int
	sampleRate  float64
	frequency   float64
	gain        float64
	gainMode    bool
	antenna     string

	streams map[*stream]struct{}
}

// New constructs a simulated Device. args may contain "channels" to
// override the default channel count.
func New(args map[string]string) (device.Device, error) {
	n := numChannelsDefault
	if v, ok := args["channels"]; ok {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return &Device{
		numChannels: n,
		sampleRate:  1,
		frequency:   100e6,
		gain:        0,
		antenna:     "RX",
		streams:     make(map[*stream]struct{}),
	}, nil
}

func (d *Device) HardwareKey() string { return "testkey" }

func (d *Device) HardwareInfo() map[string]string {
	return map[string]string{"driver": "sim", "origin": "synthetic"}
}

func (d *Device) GetFrontendMapping(dir device.Direction) string { return "" }
func (d *Device) SetFrontendMapping(dir device.Direction, mapping string) error { return nil }

func (d *Device) NumChannels(dir device.Direction) int {
	if dir == device.TX {
		return 0
	}
	return d.numChannels
}

func (d *Device) ChannelInfo(dir device.Direction, channel int) map[string]string {
	return map[string]string{"name": fmt.Sprintf("CH%d", channel)}
}

func (d *Device) FullDuplex(dir device.Direction, channel int) bool { return false }

func (d *Device) StreamFormats(dir device.Direction, channel int) []string {
	return []string{"CS8", "CS16", "CF32"}
}

func (d *Device) NativeStreamFormat(dir device.Direction, channel int) (string, float64) {
	return "CS16", 32768.0
}

func (d *Device) StreamArgsInfo(dir device.Direction, channel int) []string { return nil }

func (d *Device) ListAntennas(dir device.Direction, channel int) []string { return []string{"RX"} }

func (d *Device) GetAntenna(dir device.Direction, channel int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.antenna
}

func (d *Device) SetAntenna(dir device.Direction, channel int, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.antenna = name
	return nil
}

func (d *Device) HasGainMode(dir device.Direction, channel int) bool { return true }

func (d *Device) GetGainMode(dir device.Direction, channel int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gainMode
}

func (d *Device) SetGainMode(dir device.Direction, channel int, automatic bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gainMode = automatic
	return nil
}

func (d *Device) ListGains(dir device.Direction, channel int) []string { return []string{"TUNER"} }

func (d *Device) GetGain(dir device.Direction, channel int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

func (d *Device) SetGain(dir device.Direction, channel int, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = value
	return nil
}

func (d *Device) GetGainElement(dir device.Direction, channel int, name string) float64 {
	return d.GetGain(dir, channel)
}

func (d *Device) SetGainElement(dir device.Direction, channel int, name string, value float64) error {
	return d.SetGain(dir, channel, value)
}

func (d *Device) GetGainRange(dir device.Direction, channel int) device.Range {
	return device.Range{Min: 0, Max: 50, Step: 1}
}

func (d *Device) GetGainElementRange(dir device.Direction, channel int, name string) device.Range {
	return d.GetGainRange(dir, channel)
}

func (d *Device) ListFrequencies(dir device.Direction, channel int) []string { return []string{"RF"} }

func (d *Device) GetFrequency(dir device.Direction, channel int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequency
}

func (d *Device) SetFrequency(dir device.Direction, channel int, value float64, args map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frequency = value
	return nil
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

func (d *Device) GetSampleRate(dir device.Direction, channel int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate
}

func (d *Device) SetSampleRate(dir device.Direction, channel int, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampleRate = rate
	return nil
}

func (d *Device) GetSampleRateRange(dir device.Direction, channel int) []device.Range {
	return []device.Range{{Min: 1, Max: 61440000, Step: 1}}
}

func (d *Device) SetupStream(dir device.Direction, format string, channels []int, args map[string]string) (device.StreamHandle, error) {
	if _, ok := device.FormatBytes(format); !ok {
		return nil, fmt.Errorf("sim: unsupported format %q", format)
	}
	s := &stream{dir: dir, format: format, channels: channels}
	d.mu.Lock()
	d.streams[s] = struct{}{}
	d.mu.Unlock()
	return s, nil
}

func (d *Device) CloseStream(h device.StreamHandle) error {
	s, ok := h.(*stream)
	if !ok {
		return fmt.Errorf("sim: bad stream handle")
	}
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
	return nil
}

func (d *Device) StreamMTU(h device.StreamHandle) int { return 4096 }

func (d *Device) ActivateStream(h device.StreamHandle) error {
	s, ok := h.(*stream)
	if !ok {
		return fmt.Errorf("sim: bad stream handle")
	}
	s.active = true
	return nil
}

func (d *Device) DeactivateStream(h device.StreamHandle) error {
	s, ok := h.(*stream)
	if !ok {
		return fmt.Errorf("sim: bad stream handle")
	}
	s.active = false
	return nil
}

// ReadStream generates numElems samples of a per-channel-phase-offset
// tone directly into buffers, honoring the negotiated wire format.
// The teacher's dummy_streamer uses an integer DDS phase accumulator
// to avoid float drift; this implementation keeps the float-phase
// form. It paces itself by sleeping numElems/rate seconds after
// filling the buffers; timeout is not consulted.
func (d *Device) ReadStream(h device.StreamHandle, buffers [][]byte, numElems int, timeout time.Duration) (int, error) {
	s, ok := h.(*stream)
	if !ok {
		return -1, fmt.Errorf("sim: bad stream handle")
	}
	if !s.active {
		return -1, fmt.Errorf("sim: stream not active")
	}

	d.mu.Lock()
	rate := d.sampleRate
	d.mu.Unlock()
	if rate <= 0 {
		rate = 1
	}

	frameBytes, _ := device.FormatBytes(s.format)
	phaseStep := 2 * math.Pi * toneFreqHz / rate

	for i := 0; i < numElems; i++ {
		for ci, ch := range s.channels {
			if ci >= len(buffers) {
				break
			}
			chanPhase := s.phase + float64(ch)*(math.Pi/8)
			iv := math.Cos(chanPhase)
			qv := math.Sin(chanPhase)
			off := i * frameBytes
			writeComplexSample(buffers[ci][off:off+frameBytes], s.format, iv, qv)
		}
		s.phase += phaseStep
	}

	time.Sleep(time.Duration(float64(numElems) / rate * float64(time.Second)))
	return numElems, nil
}

func (d *Device) WriteStream(h device.StreamHandle, buffers [][]byte, numElems int, timeout time.Duration) (int, error) {
	return -1, fmt.Errorf("sim: transmit not implemented")
}

func (d *Device) Unmake() error { return nil }

func writeComplexSample(dst []byte, format string, i, q float64) {
	switch format {
	case "CS8":
		dst[0] = byte(int8(i * 127))
		dst[1] = byte(int8(q * 127))
	case "CS16":
		putInt16LE(dst[0:2], int16(i*32767))
		putInt16LE(dst[2:4], int16(q*32767))
	case "CF32":
		putFloat32LE(dst[0:4], float32(i))
		putFloat32LE(dst[4:8], float32(q))
	}
}

func putInt16LE(b []byte, v int16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putFloat32LE(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
