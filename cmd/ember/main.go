// Command ember is a thin CLI ingress over the session package: with no
// argument it becomes the running instance; with a magnet URI, a .torrent
// path, or the literal "stop-client" it forwards to an already-running
// instance's rendezvous socket and exits.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/embertorrent/ember/internal/config"
	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/rpc"
	"github.com/embertorrent/ember/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	var arg string
	if len(os.Args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: ember [magnet-uri | torrent-path | stop-client]")
		return 1
	}
	if len(os.Args) == 2 {
		arg = os.Args[1]
	}

	cfgPath, err := homedir.Expand("~/.ember/config.toml")
	if err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		return 1
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		return 1
	}
	logger.SetLevel("info")

	dbDir, err := homedir.Expand(filepath.Dir(cfg.Database))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		return 1
	}
	socketPath := filepath.Join(dbDir, "ember.sock")

	if arg != "" {
		return forward(socketPath, arg)
	}
	return serve(cfg)
}

// forward hands a command to an already-running instance. Per the CLI
// contract: exit 0 on acknowledgement, 1 on I/O error, 2 when no instance
// is listening.
func forward(socketPath, arg string) int {
	command := "add " + arg
	if arg == "stop-client" {
		command = "stop"
	}
	reply, err := rpc.SendCommand(socketPath, command, 5*time.Second)
	if err == rpc.ErrNoRunningInstance {
		fmt.Fprintln(os.Stderr, "ember: no running instance")
		return 2
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		return 1
	}
	fmt.Println(reply)
	return 0
}

// serve becomes the running instance: it brings up the session, optionally
// adds a torrent already known from the command line (none here, since
// forward handles that case), and blocks until asked to stop.
func serve(cfg config.Config) int {
	s, err := session.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		return 1
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigC:
	case <-s.ShutdownRequested():
	}

	if err := s.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		return 1
	}
	return 0
}
