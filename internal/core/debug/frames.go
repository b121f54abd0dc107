package debug

import (
	"fmt"
	"io"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/dcrodman/gatehouse/internal/core/frame"
)

// PrintFrameParams describes one frame to dump.
type PrintFrameParams struct {
	Writer io.Writer
	// Client is the address of the peer, used to label the dump.
	Client string
	// ClientFrame is true for frames sent by the client.
	ClientFrame bool
	Frame       *frame.Frame
	// Payloads longer than TruncateThreshold bytes are cut short. 0 disables truncation.
	TruncateThreshold int
}

var printMu sync.Mutex

// PrintFrame writes a header line and a hex dump of the payload. Safe for
// concurrent use; dumps from different connections never interleave.
func PrintFrame(p PrintFrameParams) {
	direction := "server -> client"
	if p.ClientFrame {
		direction = "client -> server"
	}

	payload := p.Frame.Payload
	truncated := false
	if p.TruncateThreshold > 0 && len(payload) > p.TruncateThreshold {
		payload = payload[:p.TruncateThreshold]
		truncated = true
	}

	printMu.Lock()
	defer printMu.Unlock()

	fmt.Fprintf(p.Writer, "[%s] %s %v (0x%02X) length=%d\n",
		p.Client, direction, p.Frame.Kind, uint32(p.Frame.Kind), len(p.Frame.Payload))
	if len(payload) > 0 {
		fmt.Fprint(p.Writer, spew.Sdump(payload))
	}
	if truncated {
		fmt.Fprintf(p.Writer, "... (%d bytes truncated)\n", len(p.Frame.Payload)-len(payload))
	}
	fmt.Fprintln(p.Writer)
}
