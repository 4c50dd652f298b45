// Command wiremux is a small utility for exercising the RPC substrate from
// a shell: running a server, making a single call against one, and
// inspecting the varint framing by hand. Subcommands are dispatched by
// hand off os.Args rather than through a command-tree framework.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "call":
		runCall(os.Args[2:])
	case "varint":
		runVarint(os.Args[2:])
	case "devarint":
		runDevarint(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `wiremux is a utility for working with the message-rpc wire protocol

Usage:
  wiremux serve <tcp|unix|ws> <addr>
  wiremux call <tcp|unix|ws> <addr> <method> [json-args]
  wiremux varint <uint>
  wiremux devarint <hex>`)
}

func fatal(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func decodeArgs(s string) []interface{} {
	if s == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		fatal(fmt.Errorf("wiremux: args must be a JSON array: %w", err))
	}
	arr, ok := v.([]interface{})
	if !ok {
		fatal(fmt.Errorf("wiremux: args must be a JSON array, got %T", v))
	}
	return arr
}
