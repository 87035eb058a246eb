// SPDX-License-Identifier: MIT

// ytmpctl sends control commands to a running ytmpd daemon over its Unix
// command socket and prints the JSON reply.
//
// Usage:
//
//	ytmpctl [-socket path] <command> [args]
//
// Commands:
//
//	sync                           trigger a sync run
//	status                         show daemon status
//	list                           list catalog playlists
//	preview                        show what a sync would touch
//	rate <videoID> <like|dislike>  toggle a track rating
//	quit                           stop the daemon
//
// Exit codes:
//   - 0: command accepted
//   - 1: daemon rejected the command, or transport error
//   - 2: usage error
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ytmpd/ytmpd/internal/config"
	"github.com/ytmpd/ytmpd/internal/version"
)

func defaultSocketPath() string {
	dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, config.DefaultDataDir()))
	return config.ParseString(config.EnvCommandSocketPath, filepath.Join(dataDir, "ytmpd.sock"))
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  ytmpctl [-socket path] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  sync                           trigger a sync run")
	fmt.Fprintln(os.Stderr, "  status                         show daemon status")
	fmt.Fprintln(os.Stderr, "  list                           list catalog playlists")
	fmt.Fprintln(os.Stderr, "  preview                        show what a sync would touch")
	fmt.Fprintln(os.Stderr, "  rate <videoID> <like|dislike>  toggle a track rating")
	fmt.Fprintln(os.Stderr, "  quit                           stop the daemon")
}

func main() {
	var socket string
	var timeout time.Duration
	var showVersion bool

	flag.StringVar(&socket, "socket", defaultSocketPath(), "path to the ytmpd command socket")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "total command timeout")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Println(version.Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	reply, err := send(socket, timeout, strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Is ytmpd running?")
		os.Exit(1)
	}

	pretty, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed reply: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(pretty))

	if ok, _ := reply["success"].(bool); !ok {
		os.Exit(1)
	}
}

// send writes one command line and decodes the single JSON reply line.
func send(socket string, timeout time.Duration, command string) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", socket, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socket, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	var reply map[string]any
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
