// Command rpcd is the SDR RPC server bootstrap: it binds a listening
// socket, loads no driver up front (drivers are loaded per control
// connection, spec §4.2), and runs the accept/dispatch loop until a
// fatal error, translating the result into the process exit code.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	_ "github.com/sdrhost/sdrd/internal/device/rtltcp"
	_ "github.com/sdrhost/sdrd/internal/device/sim"
	"github.com/sdrhost/sdrd/internal/rpcd"
)

func main() {
	host := flag.String("h", "0.0.0.0", "address to bind")
	port := flag.Int("p", 20655, "port to listen on")
	record := flag.String("record", "", "directory to write a Parquet capture of each activated stream into (disabled if empty)")
	help := flag.Bool("?", false, "show usage")
	flag.BoolVar(help, "help", false, "show usage")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  rpcd [-h host] [-p port] [-record dir]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(int(rpcd.ExitOK))
	}

	srv, err := rpcd.Listen(*host, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpcd: %v\n", err)
		var addrErr *rpcd.AddrError
		if errors.As(err, &addrErr) {
			os.Exit(int(rpcd.ExitAddrParse))
		}
		os.Exit(int(rpcd.ExitBind))
	}
	defer srv.Close()
	srv.SetRecordDir(*record)

	code := srv.Run()
	os.Exit(int(code))
}
