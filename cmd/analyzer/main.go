// The analyzer command decodes the frames exchanged with a server from a
// pcap capture (e.g. one taken with tcpdump) and prints them in the same
// format the server uses for packet logging.
//
//	analyzer [--port 3387] [--truncate 256] [--max-payload 1048576] capture.pcap
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	flag "github.com/spf13/pflag"

	"github.com/dcrodman/gatehouse/internal/core/frame"
)

var (
	port       = flag.Uint16P("port", "p", 3387, "Port the server was listening on")
	truncate   = flag.Int("truncate", 256, "Truncate payload dumps after this many bytes (0 disables)")
	maxPayload = flag.Uint32("max-payload", frame.DefaultMaxPayloadSize, "Largest payload length trusted before a stream is skipped")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: analyzer [flags] <capture.pcap>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		exit("error opening capture: %v", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		exit("error reading capture: %v", err)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	a := newAnalyzer(w, *port, *truncate, *maxPayload)
	source := gopacket.NewPacketSource(r, r.LinkType())
	for packet := range source.Packets() {
		a.handlePacket(packet)
	}
	a.finish()
}

func exit(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
