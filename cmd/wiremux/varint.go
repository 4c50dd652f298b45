package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/tsmaeder/message-rpc/buffer"
)

func runVarint(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: wiremux varint <uint>")
		os.Exit(2)
	}
	n, err := strconv.ParseUint(args[0], 10, 64)
	fatal(err)

	var encoded []byte
	w := buffer.NewWriteBuffer(func(b []byte) error {
		encoded = b
		return nil
	})
	w.WriteLength(n)
	fatal(w.Commit())

	fmt.Println(hex.EncodeToString(encoded))
}

func runDevarint(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: wiremux devarint <hex>")
		os.Exit(2)
	}
	b, err := hex.DecodeString(args[0])
	fatal(err)

	r := buffer.NewReadBuffer(b)
	n, err := r.ReadLength()
	fatal(err)
	fmt.Println(n)
}
