// Command rpcctl is a diagnostic client: it dials an rpcd control
// port, loads a driver, and prints a table of basic hardware
// properties. Grounded on this codebase's own cmd/client, which
// dials a server and prints what it reads — rpcctl dials over the RPC
// line protocol instead of JSON-over-websocket, and also sends calls.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/sdrhost/sdrd/internal/device"
	"github.com/sdrhost/sdrd/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:20655", "rpcd control address")
	driver := flag.String("driver", "sim", "driver name to load")
	args := flag.String("args", "", "driver args string, k=v/k=v")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpcctl: dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("0\n")); err != nil {
		fmt.Fprintf(os.Stderr, "rpcctl: writing connection kind: %v\n", err)
		os.Exit(1)
	}

	c := wire.New(conn)
	c.WriteString(*driver)
	c.WriteString(*args)
	fd := c.ReadInt()
	if fd < 0 {
		fmt.Fprintln(os.Stderr, "rpcctl: driver load rejected")
		os.Exit(1)
	}

	hwKey := queryHardwareKey(c)
	info := queryHardwareInfo(c)
	numRX := queryNumChannels(c, device.RX)
	sampleRate := queryGetSampleRate(c, device.RX, 0)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Property", "Value"})
	table.Append([]string{"hardware_key", hwKey})
	for k, v := range info {
		table.Append([]string{"info." + k, v})
	}
	table.Append([]string{"rx_channels", fmt.Sprintf("%d", numRX)})
	table.Append([]string{"rx0_sample_rate", fmt.Sprintf("%g", sampleRate)})
	table.Render()

	if err := c.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "rpcctl: protocol error: %v\n", err)
		os.Exit(1)
	}
}

func queryHardwareKey(c *wire.Codec) string {
	c.WriteInt(10) // callGetHardwareKey
	return c.ReadString()
}

func queryHardwareInfo(c *wire.Codec) map[string]string {
	c.WriteInt(11) // callGetHardwareInfo
	return c.ReadMapping()
}

func queryNumChannels(c *wire.Codec, dir device.Direction) int {
	c.WriteInt(14) // callGetNumChannels
	c.WriteInt(int(dir))
	return c.ReadInt()
}

func queryGetSampleRate(c *wire.Codec, dir device.Direction, channel int) float64 {
	c.WriteInt(50) // callGetSampleRate
	c.WriteInt(int(dir))
	c.WriteInt(channel)
	return c.ReadDouble()
}
