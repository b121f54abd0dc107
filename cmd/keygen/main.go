// Utility for generating the RSA keypair the server signs handshakes with.
// Writes <name>.pem (private) and <name>.pub (public).
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/dcrodman/gatehouse/internal/core/crypto"
)

var (
	bits = flag.Int("bits", 4096, "RSA key size")
	name = flag.StringP("out", "o", "key", "Base filename for the generated keys")
)

func main() {
	flag.Parse()

	keyring, err := crypto.GenerateKeyring(*bits)
	if err != nil {
		fmt.Println("error generating RSA key:", err)
		os.Exit(1)
	}

	private, err := keyring.EncodePrivateKey()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	public, err := keyring.EncodePublicKey()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := os.WriteFile(*name+".pem", private, 0600); err != nil {
		fmt.Println("error writing private key:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*name+".pub", public, 0644); err != nil {
		fmt.Println("error writing public key:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s.pem and %s.pub\n", *name, *name)
}
