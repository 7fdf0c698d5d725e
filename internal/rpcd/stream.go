package rpcd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sdrhost/sdrd/internal/capture"
	"github.com/sdrhost/sdrd/internal/device"
)

// Stateful stream handlers: setup_stream binds a control record's
// device to a previously-accepted data record; activate/deactivate
// start and join the pump worker that does the actual byte pumping
// (pump.go). These are kept apart from the stateless getter/setter
// handlers in handlers.go because they touch a second record (the
// bound data connection) and the worker-state handshake.

// handleSetupStream reads (data-socket id, direction, format, channel
// list, stream args), validates them in spec §4.3's order, and on
// success binds the data record to rec's device.
//
// Replies: data-socket id on success; -1 unknown data id, -2 unknown
// format, -3 sample rate not yet set, -4 device rejected the stream.
func (s *Server) handleSetupStream(rec *ConnectionRecord) {
	c := rec.codec
	dataID := c.ReadInt()
	dir := device.Direction(c.ReadInt())
	format := c.ReadString()
	channelList := c.ReadString()
	args := c.ReadMapping()

	dataRec, ok := s.table.Get(dataID)
	if !ok {
		c.WriteInt(-1)
		return
	}
	frameBytes, known := device.FormatBytes(format)
	if !known {
		c.WriteInt(-2)
		return
	}
	if rec.sampleRate <= 0 {
		c.WriteInt(-3)
		return
	}

	channels := parseChannelList(channelList)
	handle, err := rec.device.SetupStream(dir, format, channels, args)
	if err != nil {
		s.logger.Printf("ERROR rpcd: SetupStream: %v", err)
		c.WriteInt(-4)
		return
	}

	dataRec.device = rec.device
	dataRec.direction = dir
	dataRec.sampleRate = rec.sampleRate
	dataRec.format = format
	dataRec.frameBytes = frameBytes
	dataRec.channelCount = len(channels)
	dataRec.streamHandle = handle
	rec.bound = dataID

	c.WriteInt(dataID)
}

// handleCloseStream reads a data-socket id and asks its bound device
// to close the stream handle. No reply (spec §4.3). If the pump is
// still running against this stream (the client skipped or raced
// deactivate_stream), it is joined first — closeRecordSink must never
// run concurrently with the pump's own access to the record sink.
func (s *Server) handleCloseStream(rec *ConnectionRecord) {
	dataID := rec.codec.ReadInt()
	dataRec, ok := s.table.Get(dataID)
	if !ok || dataRec.device == nil || dataRec.streamHandle == nil {
		return
	}
	s.joinWorker(dataRec)
	if err := dataRec.device.CloseStream(dataRec.streamHandle); err != nil {
		s.logger.Printf("ERROR rpcd: CloseStream: %v", err)
	}
	s.closeRecordSink(dataRec)
}

// joinWorker stops and waits for dataRec's pump worker if one is
// running, leaving workerState Idle. No-op if the worker isn't
// running.
func (s *Server) joinWorker(dataRec *ConnectionRecord) {
	if WorkerState(dataRec.workerState.Load()) != WorkerRunning {
		return
	}
	done := dataRec.workerDone
	dataRec.workerState.Store(int32(WorkerStopping))
	if done != nil {
		<-done
	}
	dataRec.workerState.Store(int32(WorkerIdle))
}

// handleGetStreamMTU reads a data-socket id and replies with the
// device's reported MTU, or -1 if the id is unknown or has no stream
// bound to it yet.
func (s *Server) handleGetStreamMTU(rec *ConnectionRecord) {
	dataID := rec.codec.ReadInt()
	dataRec, ok := s.table.Get(dataID)
	if !ok || dataRec.device == nil || dataRec.streamHandle == nil {
		rec.codec.WriteInt(-1)
		return
	}
	rec.codec.WriteInt(dataRec.device.StreamMTU(dataRec.streamHandle))
}

// handleActivateStream marks the data record's worker state Running,
// stores a fresh done channel as the worker's identity, and only then
// spawns the pump worker that will close it — this order
// keeps the newly spawned goroutine from ever observing WorkerIdle
// before the handler has finished setting it up (spec §4.3, §4.4).
//
// Replies: 0 on success, -1 unknown data id or no stream bound to it
// (setup_stream was never called), -2 worker already running.
func (s *Server) handleActivateStream(rec *ConnectionRecord) {
	dataID := rec.codec.ReadInt()
	dataRec, ok := s.table.Get(dataID)
	if !ok || dataRec.device == nil || dataRec.streamHandle == nil {
		rec.codec.WriteInt(-1)
		return
	}
	if WorkerState(dataRec.workerState.Load()) != WorkerIdle {
		rec.codec.WriteInt(-2)
		return
	}

	s.openRecordSink(dataRec, dataID)

	dataRec.workerState.Store(int32(WorkerRunning))
	done := make(chan struct{})
	dataRec.workerDone = done
	go runReceivePump(dataRec, s.logger, done)

	rec.codec.WriteInt(0)
}

// openRecordSink attaches a Parquet capture.Writer to dataRec when
// rpcd was started with -record, so the pump also tees every block it
// reads onto a file named by the data socket's id. Best-effort: a
// failure to open the sink is logged but never blocks activation.
func (s *Server) openRecordSink(dataRec *ConnectionRecord, dataID int) {
	if s.recordDir == "" {
		return
	}
	path := filepath.Join(s.recordDir, fmt.Sprintf("%d.parquet", dataID))
	f, err := os.Create(path)
	if err != nil {
		s.logger.Printf("ERROR rpcd: opening capture file %s: %v", path, err)
		return
	}
	w, err := capture.New(f, capture.Meta{
		Format:       dataRec.format,
		ChannelCount: dataRec.channelCount,
		SampleRate:   dataRec.sampleRate,
	})
	if err != nil {
		s.logger.Printf("ERROR rpcd: opening capture writer for %s: %v", path, err)
		f.Close()
		return
	}
	dataRec.recordFile = f
	dataRec.recordWriter = w
}

// closeRecordSink flushes and closes a record sink opened by
// openRecordSink, if any, once the pump that was writing to it has
// joined.
func (s *Server) closeRecordSink(dataRec *ConnectionRecord) {
	if dataRec.recordWriter == nil {
		return
	}
	if err := dataRec.recordWriter.Close(); err != nil {
		s.logger.Printf("ERROR rpcd: closing capture writer: %v", err)
	}
	dataRec.recordFile.Close()
	dataRec.recordWriter = nil
	dataRec.recordFile = nil
}

// handleDeactivateStream captures the worker's done channel, flips
// the state to Stopping so the pump's loop condition exits at the top
// of its next iteration, and joins it before replying.
//
// Replies: 0 on success, -1 unknown data id, -2 worker not running.
func (s *Server) handleDeactivateStream(rec *ConnectionRecord) {
	dataID := rec.codec.ReadInt()
	dataRec, ok := s.table.Get(dataID)
	if !ok {
		rec.codec.WriteInt(-1)
		return
	}
	if WorkerState(dataRec.workerState.Load()) != WorkerRunning {
		rec.codec.WriteInt(-2)
		return
	}

	s.joinWorker(dataRec)
	s.closeRecordSink(dataRec)

	rec.codec.WriteInt(0)
}
