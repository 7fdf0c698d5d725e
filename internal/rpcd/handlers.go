package rpcd

import (
	"os"
	"strconv"
	"strings"

	"github.com/sdrhost/sdrd/internal/device"
	"github.com/sdrhost/sdrd/internal/wire"
)

// dispatchOne services one ready control fd: reads its call code and
// runs the matching handler. A failure to read the call code itself,
// and an unrecognized call code, are both fatal to the whole server
// (spec §7's Fatal server error tier; S5's "the dispatcher signals
// fatal") — the control socket is closed first, then Run returns
// ExitFatalDispatch.
func (s *Server) dispatchOne(fd int) (fatal bool) {
	rec, ok := s.table.Get(fd)
	if !ok {
		return false
	}

	code := rec.codec.ReadInt()
	if err := rec.codec.Err(); err != nil {
		s.logger.Printf("ERROR rpcd: control %s fd=%d: reading call code: %v", rec.id, fd, err)
		s.closeControl(fd)
		return true
	}

	if code == callDrop {
		s.handleDrop(rec)
		return false
	}

	if !s.callHandler(rec, code) {
		rec.codec.WriteInt(replyUnknownCall)
		s.logger.Printf("ERROR rpcd: control %s fd=%d: unknown call code %d", rec.id, fd, code)
		s.closeControl(fd)
		return true
	}
	return false
}

func (s *Server) closeControl(fd int) {
	rec, ok := s.table.Get(fd)
	if !ok {
		return
	}
	rec.file.Close()
	s.table.Remove(fd)
}

// handleDrop tears down a control connection's device and record
// without writing a reply (spec §4.3, call code 1000).
func (s *Server) handleDrop(rec *ConnectionRecord) {
	if rec.device != nil {
		if err := rec.device.Unmake(); err != nil {
			s.logger.Printf("ERROR rpcd: Unmake: %v", err)
		}
	}
	rec.file.Close()
	s.table.Remove(rec.fd)
}

// handleDriverLoad services the digit-'0' handshake: driver name,
// args string, then a reply of the new control fd on success or -1.
func (s *Server) handleDriverLoad(nfd int, file *os.File) {
	codec := wire.New(file)
	name := codec.ReadString()
	argsLine := codec.ReadString()
	if err := codec.Err(); err != nil {
		s.logger.Printf("TRACE rpcd: driver-load handshake fd=%d: %v", nfd, err)
		file.Close()
		return
	}

	dev, err := device.Make(parseDriverArgs(name, argsLine))
	if err != nil {
		s.logger.Printf("ERROR rpcd: loading driver %q: %v", name, err)
		codec.WriteInt(-1)
		file.Close()
		return
	}

	rec := newControlRecordWithCodec(nfd, file, codec, dev)
	s.table.Insert(rec)
	codec.WriteInt(nfd)
}

// parseDriverArgs turns the "k1=v1/k2=v2" args string into a map and
// folds in the driver name under the "driver" key Make looks up.
func parseDriverArgs(name, argsLine string) map[string]string {
	args := map[string]string{"driver": name}
	for _, pair := range strings.Split(argsLine, "/") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			args[kv[0]] = kv[1]
		}
	}
	return args
}

// handleDataConnect services the digit-'2'/'3' handshake. A data
// connection carries no framed protocol of its own (spec §4.2): the
// only text ever written to it is this one handshake reply, sent
// directly, not through a Codec — a read-only DataOut socket's
// buffered writer would never be flushed.
func (s *Server) handleDataConnect(nfd int, file *os.File, kind Kind) {
	rec := NewDataRecord(nfd, file, kind)
	s.table.Insert(rec)
	file.Write([]byte(strconv.Itoa(nfd) + "\n"))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func readDirection(rec *ConnectionRecord) device.Direction {
	return device.Direction(rec.codec.ReadInt())
}

func readDirChannel(rec *ConnectionRecord) (device.Direction, int) {
	dir := device.Direction(rec.codec.ReadInt())
	ch := rec.codec.ReadInt()
	return dir, ch
}

func parseChannelList(s string) []int {
	var out []int
	for _, f := range strings.Fields(s) {
		if v, err := strconv.Atoi(f); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// writeRanges serializes ranges as (min, max, step) triples terminated
// by the (0, 0, -1) sentinel (spec §6.2). A single-Range getter calls
// this with a one-element slice.
func writeRanges(c *wire.Codec, ranges []device.Range) {
	for _, r := range ranges {
		c.WriteDouble(r.Min)
		c.WriteDouble(r.Max)
		c.WriteDouble(r.Step)
	}
	c.WriteDouble(0)
	c.WriteDouble(0)
	c.WriteDouble(-1)
}

// callHandler runs the handler for code against rec, reporting
// whether code was recognized at all.
func (s *Server) callHandler(rec *ConnectionRecord, code int) bool {
	dev := rec.device
	c := rec.codec

	switch code {
	case callGetHardwareKey:
		c.WriteString(dev.HardwareKey())

	case callGetHardwareInfo:
		c.WriteMapping(dev.HardwareInfo())

	case callGetFrontendMapping:
		dir := readDirection(rec)
		c.WriteString(dev.GetFrontendMapping(dir))

	case callSetFrontendMapping:
		dir := readDirection(rec)
		mapping := c.ReadString()
		if err := dev.SetFrontendMapping(dir, mapping); err != nil {
			s.logger.Printf("ERROR rpcd: SetFrontendMapping: %v", err)
		}
		c.WriteInt(0)

	case callGetNumChannels:
		dir := readDirection(rec)
		c.WriteInt(dev.NumChannels(dir))

	case callGetChannelInfo:
		dir, ch := readDirChannel(rec)
		c.WriteMapping(dev.ChannelInfo(dir, ch))

	case callGetFullDuplex:
		dir, ch := readDirChannel(rec)
		c.WriteInt(boolToInt(dev.FullDuplex(dir, ch)))

	case callGetStreamFormats:
		dir, ch := readDirChannel(rec)
		c.WriteStrSequence(dev.StreamFormats(dir, ch))

	case callGetNativeStreamFormat:
		dir, ch := readDirChannel(rec)
		format, fullScale := dev.NativeStreamFormat(dir, ch)
		c.WriteString(format)
		c.WriteDouble(fullScale)

	case callGetStreamArgsInfo:
		dir, ch := readDirChannel(rec)
		_ = dev.StreamArgsInfo(dir, ch)
		c.WriteStrSequence(nil)

	case callListAntennas:
		dir, ch := readDirChannel(rec)
		c.WriteStrSequence(dev.ListAntennas(dir, ch))

	case callGetAntenna:
		dir, ch := readDirChannel(rec)
		c.WriteString(dev.GetAntenna(dir, ch))

	case callSetAntenna:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		if err := dev.SetAntenna(dir, ch, name); err != nil {
			s.logger.Printf("ERROR rpcd: SetAntenna: %v", err)
		}
		c.WriteInt(0)

	case callHasGainMode:
		dir, ch := readDirChannel(rec)
		c.WriteInt(boolToInt(dev.HasGainMode(dir, ch)))

	case callGetGainMode:
		dir, ch := readDirChannel(rec)
		c.WriteInt(boolToInt(dev.GetGainMode(dir, ch)))

	case callSetGainMode:
		dir, ch := readDirChannel(rec)
		automatic := c.ReadInt() != 0
		if err := dev.SetGainMode(dir, ch, automatic); err != nil {
			s.logger.Printf("ERROR rpcd: SetGainMode: %v", err)
		}
		c.WriteInt(0)

	case callListGains:
		dir, ch := readDirChannel(rec)
		c.WriteStrSequence(dev.ListGains(dir, ch))

	case callGetGain:
		dir, ch := readDirChannel(rec)
		c.WriteDouble(dev.GetGain(dir, ch))

	case callSetGain:
		dir, ch := readDirChannel(rec)
		value := c.ReadDouble()
		if err := dev.SetGain(dir, ch, value); err != nil {
			s.logger.Printf("ERROR rpcd: SetGain: %v", err)
		}
		c.WriteInt(0)

	case callGetGainElement:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		c.WriteDouble(dev.GetGainElement(dir, ch, name))

	case callSetGainElement:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		value := c.ReadDouble()
		if err := dev.SetGainElement(dir, ch, name, value); err != nil {
			s.logger.Printf("ERROR rpcd: SetGainElement: %v", err)
		}
		c.WriteInt(0)

	case callGetGainElementRange:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		writeRanges(c, []device.Range{dev.GetGainElementRange(dir, ch, name)})

	case callGetGainRange:
		dir, ch := readDirChannel(rec)
		writeRanges(c, []device.Range{dev.GetGainRange(dir, ch)})

	case callListFrequencies:
		dir, ch := readDirChannel(rec)
		c.WriteStrSequence(dev.ListFrequencies(dir, ch))

	case callGetFrequency:
		dir, ch := readDirChannel(rec)
		c.WriteDouble(dev.GetFrequency(dir, ch))

	case callSetFrequency:
		dir, ch := readDirChannel(rec)
		value := c.ReadDouble()
		args := c.ReadMapping()
		if err := dev.SetFrequency(dir, ch, value, args); err != nil {
			s.logger.Printf("ERROR rpcd: SetFrequency: %v", err)
		}
		c.WriteInt(0)

	case callGetFrequencyElement:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		c.WriteDouble(dev.GetFrequencyElement(dir, ch, name))

	case callSetFrequencyElement:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		value := c.ReadDouble()
		args := c.ReadMapping()
		if err := dev.SetFrequencyElement(dir, ch, name, value, args); err != nil {
			s.logger.Printf("ERROR rpcd: SetFrequencyElement: %v", err)
		}
		c.WriteInt(0)

	case callGetFrequencyElementRange:
		dir, ch := readDirChannel(rec)
		name := c.ReadString()
		writeRanges(c, dev.GetFrequencyElementRange(dir, ch, name))

	case callGetFrequencyRange:
		dir, ch := readDirChannel(rec)
		writeRanges(c, dev.GetFrequencyRange(dir, ch))

	case callGetSampleRate:
		dir, ch := readDirChannel(rec)
		rate := dev.GetSampleRate(dir, ch)
		rec.sampleRate = rate
		c.WriteDouble(rate)

	case callGetSampleRateRange:
		dir, ch := readDirChannel(rec)
		writeRanges(c, dev.GetSampleRateRange(dir, ch))

	case callSetSampleRate:
		dir, ch := readDirChannel(rec)
		rate := c.ReadDouble()
		if err := dev.SetSampleRate(dir, ch, rate); err != nil {
			s.logger.Printf("ERROR rpcd: SetSampleRate: %v", err)
		}
		rec.sampleRate = rate
		c.WriteInt(0)

	case callSetupStream:
		s.handleSetupStream(rec)
	case callCloseStream:
		s.handleCloseStream(rec)
	case callGetStreamMTU:
		s.handleGetStreamMTU(rec)
	case callActivateStream:
		s.handleActivateStream(rec)
	case callDeactivateStream:
		s.handleDeactivateStream(rec)

	default:
		return false
	}
	return true
}
