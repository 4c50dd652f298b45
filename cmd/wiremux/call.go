package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsmaeder/message-rpc/rpc"
	"github.com/tsmaeder/message-rpc/transport"
)

func runCall(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: wiremux call <tcp|unix|ws> <addr> <method> [json-args]")
		os.Exit(2)
	}
	kind, addr, method := args[0], args[1], args[2]
	var rawArgs string
	if len(args) > 3 {
		rawArgs = args[3]
	}

	m, err := transport.Dial(kind, addr)
	fatal(err)
	defer m.Close()

	client := rpc.NewClient(m, rpc.NewChannelID(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.Call(ctx, method, decodeArgs(rawArgs))
	fatal(err)

	b, err := json.MarshalIndent(result, "", "  ")
	fatal(err)
	fmt.Println(string(b))
}
