package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tsmaeder/message-rpc/mux"
	"github.com/tsmaeder/message-rpc/rpc"
	"github.com/tsmaeder/message-rpc/transport"
)

func runServe(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wiremux serve <tcp|unix|ws> <addr>")
		os.Exit(2)
	}
	kind, addr := args[0], args[1]

	svcMux := rpc.NewServeMux()
	svcMux.HandleFunc("echo", func(callArgs []interface{}) (interface{}, error) {
		return callArgs, nil
	})
	svcMux.HandleFunc("ping", func(callArgs []interface{}) (interface{}, error) {
		return "pong", nil
	})

	accept := func() (*mux.Mux, error) { return nil, fmt.Errorf("wiremux: unsupported transport %q", kind) }

	switch kind {
	case "tcp":
		ln, err := transport.ListenTCP(addr)
		fatal(err)
		accept = ln.Accept
	case "unix":
		ln, err := transport.ListenUnix(addr)
		fatal(err)
		accept = ln.Accept
	case "ws":
		ln, err := transport.ListenWS(addr)
		fatal(err)
		accept = ln.Accept
	}

	log.Printf("wiremux: serving %s on %s", kind, addr)
	for {
		m, err := accept()
		if err != nil {
			log.Printf("wiremux: accept: %v", err)
			continue
		}
		rpc.NewServer(m, svcMux, nil)
	}
}
