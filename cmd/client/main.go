// The client command is a scripted client for exercising a running server:
// it performs a handshake, logs in and optionally fetches a module.
package main

import (
	"crypto/rsa"
	"fmt"
	"net"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dcrodman/gatehouse/internal/core/crypto"
	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/dispatch"
)

var (
	addr      = flag.StringP("addr", "a", "localhost:3387", "Server address")
	username  = flag.StringP("username", "u", "", "Account username")
	password  = flag.StringP("password", "p", "", "Account password")
	module    = flag.StringP("module", "m", "", "Module to fetch after logging in")
	serverKey = flag.String("server-key", "", "PEM public key used to verify the handshake signature")
	output    = flag.StringP("output", "o", "", "Write the fetched module here instead of stdout")
	timeout   = flag.Duration("timeout", 10*time.Second, "Per-reply timeout")
)

type conn struct {
	net.Conn
	reader *frame.Reader
}

func (c *conn) request(kind frame.Kind, payload []byte) (dispatch.Status, []byte, error) {
	if _, err := c.Write(frame.Encode(kind, payload)); err != nil {
		return 0, nil, fmt.Errorf("error sending %v: %w", kind, err)
	}
	_ = c.SetReadDeadline(time.Now().Add(*timeout))
	reply, err := c.reader.ReadFrame()
	if err != nil {
		return 0, nil, fmt.Errorf("error reading reply to %v: %w", kind, err)
	}
	if len(reply.Payload) == 0 {
		return 0, nil, fmt.Errorf("empty %v", reply.Kind)
	}
	return dispatch.Status(reply.Payload[0]), reply.Payload[1:], nil
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var verifyKey *rsa.PublicKey
	if *serverKey != "" {
		pemBytes, err := os.ReadFile(*serverKey)
		if err != nil {
			return fmt.Errorf("error reading server key: %w", err)
		}
		if verifyKey, err = crypto.ParsePublicKey(pemBytes); err != nil {
			return err
		}
	}

	nc, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", *addr, err)
	}
	defer nc.Close()
	c := &conn{Conn: nc, reader: frame.NewReader(nc, 0)}

	handshake, err := crypto.NewClientHandshake()
	if err != nil {
		return err
	}
	status, body, err := c.request(frame.KindHandshake, handshake.Payload())
	if err != nil {
		return err
	}
	if status != dispatch.StatusOK {
		return fmt.Errorf("handshake rejected: %v: %s", status, body)
	}
	key, err := handshake.Complete(body, verifyKey)
	if err != nil {
		return fmt.Errorf("error completing handshake: %w", err)
	}
	fmt.Fprintln(os.Stderr, "handshake complete")

	status, body, err = c.request(frame.KindLoginRequest, []byte(*username+":"+*password))
	if err != nil {
		return err
	}
	if status != dispatch.StatusOK {
		return fmt.Errorf("login rejected: %v: %s", status, body)
	}
	fmt.Fprintf(os.Stderr, "logged in as %s\n", body)

	if *module == "" {
		return nil
	}

	status, body, err = c.request(frame.KindFetchModule, []byte(*module))
	if err != nil {
		return err
	}
	if status != dispatch.StatusOK {
		return fmt.Errorf("fetch rejected: %v: %s", status, body)
	}
	if len(body) == 0 {
		return fmt.Errorf("module reply has no flag byte")
	}

	content := body[1:]
	if body[0] == dispatch.ModuleSealed {
		if content, err = crypto.Open(key, content, []byte(*module)); err != nil {
			return fmt.Errorf("error opening module: %w", err)
		}
	}

	if *output != "" {
		return os.WriteFile(*output, content, 0644)
	}
	_, err = os.Stdout.Write(content)
	return err
}
