// Command tinc-ctl talks to a running daemon over its admin socket.
//
//	tinc-ctl [-socket PATH] dump nodes [json|cbor]
//	tinc-ctl [-socket PATH] dump connections [json|cbor]
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xgongx/tinc/pkg/admin"
	"github.com/xgongx/tinc/pkg/config"
)

func main() {
	socket := flag.String("socket", config.DefaultAdminSocket(), "admin socket path")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: tinc-ctl [-socket PATH] COMMAND [args]")
		os.Exit(2)
	}

	body, contentType, err := admin.Request(*socket, strings.Join(flag.Args(), " "))
	if err != nil {
		fmt.Fprintln(os.Stderr, "tinc-ctl:", err)
		os.Exit(1)
	}
	switch contentType {
	case "application/json":
		fmt.Println(string(body))
	default:
		// Binary formats go to stdout base64-encoded unless piped raw.
		fmt.Println(base64.StdEncoding.EncodeToString(body))
	}
}
