package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag

// networkName is the deployment instructions are signed for. Overridden via
// PAYAI_NETWORK or --network.
var networkName = defaultNetworkName()

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "convert-key":
		return runConvertKey(rest, stdout, stderr)
	case "init-global-state":
		return runInitGlobalState(rest, stdout, stderr)
	case "update-admin":
		return runUpdateAdmin(rest, stdout, stderr)
	case "update-buyer-fee":
		return runUpdateFee("update-buyer-fee", rest, stdout, stderr)
	case "update-seller-fee":
		return runUpdateFee("update-seller-fee", rest, stdout, stderr)
	case "init-counter":
		return runInitCounter(rest, stdout, stderr)
	case "start-contract":
		return runStartContract(rest, stdout, stderr)
	case "release":
		return runSettle("release", rest, stdout, stderr)
	case "refund":
		return runSettle("refund", rest, stdout, stderr)
	case "collect-fees":
		return runCollectFees(rest, stdout, stderr)
	case "get-contract":
		return runGetContract(rest, stdout, stderr)
	case "global-state":
		return runGlobalState(rest, stdout, stderr)
	case "balance":
		return runBalance(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  payai-cli [--rpc URL] [--network NAME] <command> [flags]

Keys:
  generate-key       Generate a key and write it to a keystore
  convert-key        Convert a raw hex secret file into a keystore

Administration:
  init-global-state  Initialise the global state (default admin only)
  update-admin       Hand the administrator role to another identity
  update-buyer-fee   Set the buyer fee percentage
  update-seller-fee  Set the seller fee percentage
  collect-fees       Sweep the platform fee vault to the admin

Contracts:
  init-counter       Create the caller's contract counter
  start-contract     Open and fund a contract
  release            Release a contract to the seller
  refund             Refund a contract to the buyer (admin only)

Queries:
  get-contract       Show a contract
  global-state       Show the administrator and fees
  balance            Show an account balance

Keystore passphrases are read from PAYAI_KEY_PASS or prompted.
Instructions are signed for PAYAI_NETWORK (default payai-local) unless
--network is given.`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func defaultNetworkName() string {
	if v := strings.TrimSpace(os.Getenv("PAYAI_NETWORK")); v != "" {
		return v
	}
	return "payai-local"
}

func applyGlobalFlags(args []string) ([]string, error) {
	globals := map[string]*string{"--rpc": &rpcEndpoint, "--network": &networkName}
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if target, ok := globals[arg]; ok {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			*target = args[i+1]
			i++
			continue
		}
		if name, value, found := strings.Cut(arg, "="); found {
			if target, ok := globals[name]; ok {
				*target = value
				continue
			}
		}
		out = append(out, arg)
	}
	return out, nil
}
