// Package device declares the hardware/driver abstraction the RPC
// layer calls against. The abstraction itself is an external
// collaborator: concrete drivers live in sibling packages (sim,
// rtltcp) and are registered by name so the control-connection
// handshake can construct one from a driver name plus an args string.
package device

import "time"

// Direction selects which side of a channel an operation targets.
type Direction int

const (
	RX Direction = iota
	TX
)

// Range describes one tunable range: [Min, Max] stepped by Step.
type Range struct {
	Min, Max, Step float64
}

// StreamHandle is an opaque, driver-owned stream object returned by
// SetupStream and consumed by the remaining stream operations.
type StreamHandle interface{}

// Device is implemented by every driver. Query/getter methods return
// their value directly; setters return an error only to let the RPC
// handler log it — per the wire protocol, setters still reply success
// to the client even when the underlying device reports a failure
// (spec: the RPC reply is a success token, not a result code, for
// setters).
type Device interface {
	HardwareKey() string
	HardwareInfo() map[string]string

	GetFrontendMapping(dir Direction) string
	SetFrontendMapping(dir Direction, mapping string) error

	NumChannels(dir Direction) int
	ChannelInfo(dir Direction, channel int) map[string]string
	FullDuplex(dir Direction, channel int) bool

	StreamFormats(dir Direction, channel int) []string
	NativeStreamFormat(dir Direction, channel int) (format string, fullScale float64)
	StreamArgsInfo(dir Direction, channel int) []string

	ListAntennas(dir Direction, channel int) []string
	GetAntenna(dir Direction, channel int) string
	SetAntenna(dir Direction, channel int, name string) error

	HasGainMode(dir Direction, channel int) bool
	GetGainMode(dir Direction, channel int) bool
	SetGainMode(dir Direction, channel int, automatic bool) error

	ListGains(dir Direction, channel int) []string
	GetGain(dir Direction, channel int) float64
	SetGain(dir Direction, channel int, value float64) error
	GetGainElement(dir Direction, channel int, name string) float64
	SetGainElement(dir Direction, channel int, name string, value float64) error
	GetGainRange(dir Direction, channel int) Range
	GetGainElementRange(dir Direction, channel int, name string) Range

	ListFrequencies(dir Direction, channel int) []string
	GetFrequency(dir Direction, channel int) float64
	SetFrequency(dir Direction, channel int, value float64, args map[string]string) error
	GetFrequencyElement(dir Direction, channel int, name string) float64
	SetFrequencyElement(dir Direction, channel int, name string, value float64, args map[string]string) error
	GetFrequencyRange(dir Direction, channel int) []Range
	GetFrequencyElementRange(dir Direction, channel int, name string) []Range

	GetSampleRate(dir Direction, channel int) float64
	SetSampleRate(dir Direction, channel int, rate float64) error
	GetSampleRateRange(dir Direction, channel int) []Range

	SetupStream(dir Direction, format string, channels []int, args map[string]string) (StreamHandle, error)
	CloseStream(h StreamHandle) error
	StreamMTU(h StreamHandle) int
	ActivateStream(h StreamHandle) error
	DeactivateStream(h StreamHandle) error
	// ReadStream fills buffers (one []byte per channel) with up to
	// numElems samples each, blocking up to timeout. It returns the
	// number of samples actually read, or a negative value on error.
	ReadStream(h StreamHandle, buffers [][]byte, numElems int, timeout time.Duration) (n int, err error)
	// WriteStream is the transmit-direction counterpart; no driver in
	// this repo implements it (transmit pumping is an unfilled slot).
	WriteStream(h StreamHandle, buffers [][]byte, numElems int, timeout time.Duration) (n int, err error)

	Unmake() error
}

// Driver constructs a Device from merged driver arguments: the
// "driver" key (the registered name) plus whatever key=value pairs
// the client supplied in the args string.
type Driver func(args map[string]string) (Device, error)

var registry = map[string]Driver{}

// Register associates a driver name with a constructor. Drivers call
// this from an init() in their own package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Make looks up the driver named by args["driver"] and constructs a
// Device from it.
func Make(args map[string]string) (Device, error) {
	name := args["driver"]
	d, ok := registry[name]
	if !ok {
		return nil, &UnknownDriverError{Name: name}
	}
	return d(args)
}

// UnknownDriverError is returned by Make when no driver with the
// requested name has been registered.
type UnknownDriverError struct {
	Name string
}

func (e *UnknownDriverError) Error() string {
	return "device: unknown driver " + e.Name
}

// FormatBytes maps a wire stream-format tag to its byte count per
// complex sample. Unknown tags return 0, false.
func FormatBytes(format string) (int, bool) {
	switch format {
	case "CS8":
		return 2, true
	case "CS16":
		return 4, true
	case "CF32":
		return 8, true
	default:
		return 0, false
	}
}
