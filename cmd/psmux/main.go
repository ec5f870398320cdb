package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"psmux/internal/ipc"
)

// main dispatches between the two roles this binary plays: "psmux server"
// runs the long-lived session host (pane trees, PTYs, transport); any other
// invocation is a one-shot CLI client sending a single tmux-style command to
// an already-running server, matching the rest of the CLI surface.
func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "server" {
		runServer(args[1:])
		return
	}
	runClient(args)
}

// runServer starts the session host and blocks until it receives SIGINT or
// SIGTERM, then tears every session down cleanly.
func runServer(_ []string) {
	srv := NewServer()
	pipeName := ipc.DefaultPipeName()
	if err := srv.Start(pipeName); err != nil {
		slog.Error("[server] failed to start command pipe", "pipe", pipeName, "error", err)
		os.Exit(1)
	}
	slog.Info("[server] listening", "pipe", pipeName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("[server] shutting down")
	srv.Stop()
}
