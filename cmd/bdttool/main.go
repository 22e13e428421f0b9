// Package main implements bdttool, the transport debug CLI: chunk-id
// inspection and queries against a running node's control API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/control"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	var err error
	switch command {
	case "status", "tunnels", "noc-stat":
		err = runControlQuery(command, os.Args[2:])
	case "chunk-id":
		err = runChunkId(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// runControlQuery sends one request to a running node's control API and
// prints the JSON response.
func runControlQuery(command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	addr := fs.String("control", "127.0.0.1:1329", "control API address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	method := map[string]string{
		"status":   "GetStatus",
		"tunnels":  "ListTunnels",
		"noc-stat": "NocStat",
	}[command]

	conn, err := net.DialTimeout("tcp", *addr, 3*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s (is cyfsnode running?): %w", *addr, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(control.Request{Method: method, ID: "bdttool"}); err != nil {
		return err
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// runChunkId computes or inspects chunk ids.
func runChunkId(args []string) error {
	fs := flag.NewFlagSet("chunk-id", flag.ExitOnError)
	file := fs.String("file", "", "compute the chunk id of a file's bytes")
	parse := fs.String("parse", "", "parse and describe a chunk id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *file != "":
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		id := objectid.NewChunkID(data)
		fmt.Printf("%s  length=%d\n", id, id.Length())
	case *parse != "":
		id, err := objectid.FromStringChunkID(*parse)
		if err != nil {
			return err
		}
		fmt.Printf("length=%d hash-prefix=%x\n", id.Length(), id.HashPrefix())
	default:
		return fmt.Errorf("one of -file or -parse is required")
	}
	return nil
}

func printUsage() {
	fmt.Print(`bdttool - transport debug tool

Usage:
  bdttool <command> [options]

Commands:
  status    Show a running node's stack status
  tunnels   List a running node's tunnels
  noc-stat  Show named-object cache statistics
  chunk-id  Compute (-file) or parse (-parse) a chunk id
  help      Show this help message

Options:
  -control <addr>   control API address (default 127.0.0.1:1329)
`)
}
