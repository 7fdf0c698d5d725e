package rpcd

import (
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sdrhost/sdrd/internal/capture"
	"github.com/sdrhost/sdrd/internal/connid"
	"github.com/sdrhost/sdrd/internal/device"
	"github.com/sdrhost/sdrd/internal/wire"
)

// Kind classifies a ConnectionRecord the way spec §3 does.
type Kind int

const (
	KindControl Kind = iota
	KindDataOut
	KindDataIn
)

// WorkerState tracks a data record's pump lifecycle (spec §3, §4.4).
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerStopping
)

// ConnectionRecord is one entry in the ConnectionTable, one per open
// socket. Only the accept-loop goroutine mutates fields other than
// workerState/bytesPumped; a pump worker holds a borrowed reference
// to its own record for the pump's lifetime and touches only those
// two via atomics (spec §5).
type ConnectionRecord struct {
	fd   int
	file *os.File // raw-fd-backed handle; Codec wraps this for Control, raw Read/Write for Data kinds
	id   uuid.UUID

	kind  Kind
	codec *wire.Codec // present iff kind == KindControl

	device device.Device
	direction device.Direction

	sampleRate   float64
	format       string
	frameBytes   int
	channelCount int
	streamHandle device.StreamHandle

	// bound is the data socket id this control record most recently
	// set up a stream against (spec §9, "control -> data binding").
	// It is recorded by setup_stream only; close/activate/deactivate
	// each read their data id from the request and do not consult it.
	bound int

	// recordFile/recordWriter are set by activate_stream when rpcd was
	// started with -record, so the pump worker can tee every block it
	// reads onto a Parquet file in addition to the data socket.
	recordFile   *os.File
	recordWriter *capture.Writer

	workerState  atomic.Int32
	workerDone   chan struct{}
	bytesPumped  atomic.Int64
}

// NewControlRecord wraps fd/file as a Control connection, creating a
// fresh Codec over file. The live accept loop does not call it; it
// uses newControlRecordWithCodec so the codec that already consumed
// the driver-load handshake lines is the one kept in the record.
func NewControlRecord(fd int, file *os.File, dev device.Device) *ConnectionRecord {
	return &ConnectionRecord{
		fd:     fd,
		file:   file,
		id:     connid.New(),
		kind:   KindControl,
		codec:  wire.New(file),
		device: dev,
	}
}

func newControlRecordWithCodec(fd int, file *os.File, codec *wire.Codec, dev device.Device) *ConnectionRecord {
	return &ConnectionRecord{
		fd:     fd,
		file:   file,
		id:     connid.New(),
		kind:   KindControl,
		codec:  codec,
		device: dev,
	}
}

// NewDataRecord wraps fd/file as a DataOut/DataIn connection. device,
// direction, sampleRate, frameBytes and channelCount remain zero until
// a successful setup_stream binds them (spec invariant 2).
func NewDataRecord(fd int, file *os.File, kind Kind) *ConnectionRecord {
	return &ConnectionRecord{
		fd:   fd,
		file: file,
		id:   connid.New(),
		kind: kind,
	}
}

// ConnectionTable is one Server's socket-id -> record map. Only
// the accept loop inserts or removes entries (spec invariant 4).
type ConnectionTable struct {
	records map[int]*ConnectionRecord
}

// NewConnectionTable returns an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{records: make(map[int]*ConnectionRecord)}
}

func (t *ConnectionTable) Insert(r *ConnectionRecord) {
	t.records[r.fd] = r
}

func (t *ConnectionTable) Get(id int) (*ConnectionRecord, bool) {
	r, ok := t.records[id]
	return r, ok
}

func (t *ConnectionTable) Remove(id int) {
	delete(t.records, id)
}

// ControlFDs returns the fds of every Control-kind record, for
// building the poll set each loop iteration (spec §4.2 step 1).
func (t *ConnectionTable) ControlFDs() []int {
	var out []int
	for id, r := range t.records {
		if r.kind == KindControl {
			out = append(out, id)
		}
	}
	return out
}
