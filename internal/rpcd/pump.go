package rpcd

import (
	"errors"
	"log"
	"time"
)

// pumpReadsPerSecond sizes each ReadStream call so a pump wakes four
// times a second regardless of sample rate (spec §4.4).
const pumpReadsPerSecond = 4

// pumpReadTimeout bounds how long a single ReadStream call may block
// before the worker re-checks workerState.
const pumpReadTimeout = time.Second

// runReceivePump is the RX-direction data pump: it activates the
// underlying device stream, then loops reading one block of samples
// per channel and writing them interleaved onto the data socket,
// until deactivated or until a read or write fails.
//
// It owns dataRec.streamHandle and dataRec.file for its lifetime; the
// only fields it shares with the accept-loop goroutine are
// workerState and bytesPumped, both touched only via atomics, per the
// two-phase handshake in handleActivateStream/handleDeactivateStream.
func runReceivePump(dataRec *ConnectionRecord, logger *log.Logger, done chan struct{}) {
	defer close(done)

	if err := dataRec.device.ActivateStream(dataRec.streamHandle); err != nil {
		logger.Printf("ERROR rpcd: pump %s: ActivateStream: %v", dataRec.id, err)
		dataRec.workerState.Store(int32(WorkerIdle))
		return
	}
	defer func() {
		if err := dataRec.device.DeactivateStream(dataRec.streamHandle); err != nil {
			logger.Printf("ERROR rpcd: pump %s: DeactivateStream: %v", dataRec.id, err)
		}
	}()

	elemsPerRead := int(dataRec.sampleRate / pumpReadsPerSecond)
	if elemsPerRead <= 0 {
		elemsPerRead = 1
	}
	channelCount := dataRec.channelCount
	if channelCount <= 0 {
		channelCount = 1
	}
	frameBytes := dataRec.frameBytes

	buffers := make([][]byte, channelCount)
	for i := range buffers {
		buffers[i] = make([]byte, elemsPerRead*frameBytes)
	}
	interleaved := make([]byte, elemsPerRead*frameBytes*channelCount)

	for WorkerState(dataRec.workerState.Load()) == WorkerRunning {
		n, err := dataRec.device.ReadStream(dataRec.streamHandle, buffers, elemsPerRead, pumpReadTimeout)
		if err != nil || n < 0 {
			if err == nil {
				err = errors.New("negative sample count")
			}
			logger.Printf("ERROR rpcd: pump %s: ReadStream: %v", dataRec.id, err)
			return
		}

		total := n * frameBytes * channelCount
		for i := 0; i < n; i++ {
			srcOff := i * frameBytes
			for ch := 0; ch < channelCount; ch++ {
				dstOff := (i*channelCount + ch) * frameBytes
				copy(interleaved[dstOff:dstOff+frameBytes], buffers[ch][srcOff:srcOff+frameBytes])
			}
		}

		written, werr := dataRec.file.Write(interleaved[:total])
		dataRec.bytesPumped.Add(int64(written))
		if werr != nil || written != total {
			logger.Printf("ERROR rpcd: pump %s: short write %d/%d: %v", dataRec.id, written, total, werr)
			return
		}

		if dataRec.recordWriter != nil {
			if _, err := dataRec.recordWriter.Write(interleaved[:total]); err != nil {
				logger.Printf("ERROR rpcd: pump %s: capture write: %v", dataRec.id, err)
			}
		}
	}
}

// StartTransmitPump is the TX-direction counterpart to
// runReceivePump. No driver in this repo implements WriteStream, so
// it is never wired to activate_stream; it exists as the declared
// slot the spec's "one of the two pump directions is unimplemented in
// this codebase" leaves open (spec §4.4, Non-goals).
func StartTransmitPump(dataRec *ConnectionRecord) error {
	return errors.New("rpcd: transmit pump not implemented")
}
