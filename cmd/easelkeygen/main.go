// Command easelkeygen generates Ed25519 signing keypairs for proof
// issuance. The private key is written as a raw 32-byte seed, the
// public key in both raw and OpenSSH authorized_keys formats.
//
// Usage:
//
//	easelkeygen -out keys/signing
//
// produces keys/signing.key (seed, 0600), keys/signing.pub (raw) and
// keys/signing.pub.ssh.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"easeld/internal/security"
)

func main() {
	out := flag.String("out", "signing", "output path prefix")
	force := flag.Bool("force", false, "overwrite existing key files")
	flag.Parse()

	keyPath := *out + ".key"
	pubPath := *out + ".pub"
	sshPath := *out + ".pub.ssh"

	if !*force {
		for _, p := range []string{keyPath, pubPath, sshPath} {
			if _, err := os.Stat(p); err == nil {
				fmt.Fprintf(os.Stderr, "Error: %s exists (use -force to overwrite)\n", p)
				os.Exit(2)
			}
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: generate key: %v\n", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(keyPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "Error: create directory: %v\n", err)
			os.Exit(1)
		}
	}

	seed := priv.Seed()
	if err := os.WriteFile(keyPath, seed, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error: write private key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(pubPath, pub, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: write public key: %v\n", err)
		os.Exit(1)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode ssh public key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(sshPath, ssh.MarshalAuthorizedKey(sshPub), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: write ssh public key: %v\n", err)
		os.Exit(1)
	}

	security.WipeAll(priv, seed)

	fmt.Printf("Private key (seed):  %s\n", keyPath)
	fmt.Printf("Public key (raw):    %s\n", pubPath)
	fmt.Printf("Public key (ssh):    %s\n", sshPath)
}
