// Package wire implements the line-oriented text framing used on a
// control connection: integers, doubles, strings, string-string
// mappings and string sequences, each newline-terminated. A Codec
// wraps one byte stream and once any read or write fails it latches into
// an errored state; every call after that is a no-op that returns the
// documented sentinel, so a caller can issue a batch of reads/writes
// and check the error once at the end.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
)

// maxLineLen bounds a single protocol line. The RPC frame protocol
// never needs more than this; a longer line is a violation.
const maxLineLen = 256

// Codec frames primitive RPC values over any byte stream — a
// net.Conn in tests, or a raw-fd-backed *os.File on a live control
// socket, since the accept loop talks to sockets as plain fds (§4.2).
type Codec struct {
	conn    io.ReadWriteCloser
	r       *bufio.Reader
	w       *bufio.Writer
	errored bool
	lastErr error
}

// New wraps conn in a Codec. Our own bufio.Writer is flushed after
// every write call so writes become visible per line (line buffering).
func New(conn io.ReadWriteCloser) *Codec {
	return &Codec{
		conn: conn,
		r:    bufio.NewReaderSize(conn, maxLineLen),
		w:    bufio.NewWriterSize(conn, maxLineLen),
	}
}

// Err reports whether the codec has latched into the errored state,
// and the error that caused it.
func (c *Codec) Err() error {
	return c.lastErr
}

func (c *Codec) fail(err error) {
	if !c.errored {
		c.errored = true
		c.lastErr = err
	}
}

func (c *Codec) readLine() (string, error) {
	if c.errored {
		return "", c.lastErr
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.fail(err)
		return "", err
	}
	if len(line) > maxLineLen {
		err := fmt.Errorf("wire: line exceeds %d bytes", maxLineLen)
		c.fail(err)
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Codec) writeLine(s string) error {
	if c.errored {
		return c.lastErr
	}
	if _, err := c.w.WriteString(s); err != nil {
		c.fail(err)
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		c.fail(err)
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// WriteInt emits i as decimal text followed by a newline.
func (c *Codec) WriteInt(i int) int {
	if err := c.writeLine(strconv.Itoa(i)); err != nil {
		return -1
	}
	return 0
}

// ReadInt reads one decimal integer line. Returns -1 on error or if
// the codec has already latched.
func (c *Codec) ReadInt() int {
	line, err := c.readLine()
	if err != nil {
		return -1
	}
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		c.fail(err)
		return -1
	}
	return v
}

// WriteDouble emits d as decimal floating point text.
func (c *Codec) WriteDouble(d float64) int {
	if err := c.writeLine(strconv.FormatFloat(d, 'g', -1, 64)); err != nil {
		return -1
	}
	return 0
}

// ReadDouble reads one floating point line. Returns NaN on error.
func (c *Codec) ReadDouble() float64 {
	line, err := c.readLine()
	if err != nil {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		c.fail(err)
		return math.NaN()
	}
	return v
}

// WriteString emits s verbatim. Callers must ensure s contains no
// newline (hardware names, keys, format tags never do).
func (c *Codec) WriteString(s string) int {
	if err := c.writeLine(s); err != nil {
		return -1
	}
	return 0
}

// ReadString reads one line verbatim. Returns "" on error.
func (c *Codec) ReadString() string {
	line, err := c.readLine()
	if err != nil {
		return ""
	}
	return line
}

// WriteMapping emits kv as "key=value" lines in arbitrary order,
// followed by a lone "=" terminator.
func (c *Codec) WriteMapping(kv map[string]string) int {
	for k, v := range kv {
		if err := c.writeLine(k + "=" + v); err != nil {
			return -1
		}
	}
	if err := c.writeLine("="); err != nil {
		return -1
	}
	return 0
}

// ReadMapping reads key=value lines until a terminator: an empty
// line, or any line shorter than two characters (the lone "=" case).
// A line with no "=" is logged and skipped rather than failing the
// whole read.
func (c *Codec) ReadMapping() map[string]string {
	out := make(map[string]string)
	for {
		line, err := c.readLine()
		if err != nil {
			return map[string]string{}
		}
		if len(line) < 2 {
			return out
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			log.Printf("wire: mapping line without '=': %q", line)
			continue
		}
		out[line[:idx]] = line[idx+1:]
	}
}

// WriteStrSequence emits each element of seq on its own line followed
// by an empty terminator line.
func (c *Codec) WriteStrSequence(seq []string) int {
	for _, s := range seq {
		if err := c.writeLine(s); err != nil {
			return -1
		}
	}
	if err := c.writeLine(""); err != nil {
		return -1
	}
	return 0
}

// ReadStrSequence reads lines until an empty line terminates the
// sequence.
func (c *Codec) ReadStrSequence() []string {
	var out []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil
		}
		if line == "" {
			return out
		}
		out = append(out, line)
	}
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}

// ensure io.Closer is satisfied for callers that only need to tear
// down the connection.
var _ io.Closer = (*Codec)(nil)
