// Package main implements the cyfsnode CLI: bring up a stack from a
// stored (or freshly generated) identity and serve the local control
// API.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cyfs-go/cyfscore/pkg/control"
	"github.com/cyfs-go/cyfscore/pkg/identity"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/stack"
)

// Build-time variables set by ldflags
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "init":
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
	case "start":
		if err := runStart(); err != nil {
			fmt.Fprintf(os.Stderr, "start: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func identityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cyfsnode-identity.json"
	}
	return filepath.Join(home, ".cyfs", "identity.json")
}

func runInit() error {
	path := identityPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("identity already exists at %s", path)
	}
	id, err := identity.Generate(keyring.AlgorithmSECP256K1, nil)
	if err != nil {
		return err
	}
	if err := id.SaveToFile(path); err != nil {
		return err
	}
	fmt.Printf("Device %s\nIdentity written to %s\n", id.BID(), path)
	return nil
}

func runStart() error {
	id, err := identity.LoadFromFile(identityPath())
	if err != nil {
		return fmt.Errorf("load identity (run `cyfsnode init` first): %w", err)
	}
	s, err := stack.New(stack.Config{Identity: id})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supDone := make(chan error, 1)
	go func() {
		supDone <- stack.Supervise(ctx, s, stack.DefaultRestartPolicy())
	}()
	fmt.Printf("Stack running as device %s\n", id.BID())

	listener, err := net.Listen("tcp", "127.0.0.1:1329")
	if err != nil {
		cancel()
		<-supDone
		return fmt.Errorf("control listener: %w", err)
	}
	go func() {
		_ = control.NewServer(s).Serve(ctx, listener)
	}()
	fmt.Printf("Control API on %s\n", listener.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		cancel()
		return <-supDone
	case err := <-supDone:
		// Supervision gave up on its own; surface why.
		return err
	}
}

func printVersion() {
	fmt.Printf("cyfsnode %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`cyfsnode v%s - decentralized named-object network node

Usage:
  cyfsnode <command> [options]

Commands:
  init      Generate a device identity
  start     Start the stack and serve the local control API
  version   Show version information
  help      Show this help message
`, version)
}
