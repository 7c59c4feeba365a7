package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"payai/cmd/internal/passphrase"
	"payai/config"
	"payai/crypto"
)

// passphraseFor resolves the keystore passphrase, asking twice when a new
// keystore is written. Tests replace it.
var passphraseFor = func(newKeystore bool) (string, error) {
	var opts []passphrase.Option
	if newKeystore {
		opts = append(opts, passphrase.WithConfirmation())
	}
	return passphrase.NewSource(config.EnvKeyPassphrase, opts...).Get()
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := passphraseFor(false)
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	out := fs.String("out", "wallet.keystore", "keystore file to write")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", *out))
	}
	pass, err := passphraseFor(true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", key.PubKey().Address().String(), *out)
	return 0
}

func runConvertKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("convert-key", stderr)
	in := fs.String("in", "", "file holding a hex-encoded secret key")
	out := fs.String("out", "", "keystore file to write")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if *in == "" {
		return printError(stderr, "--in is required")
	}
	if *out == "" {
		return printError(stderr, "--out is required")
	}
	pass, err := passphraseFor(true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr, err := crypto.ConvertRawKey(*in, *out, pass)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", addr.String(), *out)
	return 0
}
