package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/embertorrent/ember/internal/rpc"
)

// rpcServer dispatches newline-delimited commands arriving on the
// rendezvous socket into Session operations, so a second CLI invocation
// can hand a magnet link or a stop request to an already-running instance
// without a shared terminal.
type rpcServer struct {
	session   *Session
	server    *rpc.Server
	ShutdownC chan struct{}
}

func newRPCServer(s *Session) *rpcServer {
	return &rpcServer{session: s, ShutdownC: make(chan struct{}, 1)}
}

// Start begins listening on the unix socket at path.
func (r *rpcServer) Start(path string) error {
	srv, err := rpc.Start(path, r.handle)
	if err != nil {
		return err
	}
	r.server = srv
	return nil
}

// Stop closes the rendezvous socket.
func (r *rpcServer) Stop(timeout time.Duration) error {
	if r.server == nil {
		return nil
	}
	return r.server.Stop(timeout)
}

// handle parses one command line and dispatches it. The verb vocabulary is
// deliberately small: add a torrent, list torrents, or ask the running
// instance to shut down.
func (r *rpcServer) handle(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("rpc: empty command")
	}
	switch fields[0] {
	case "add":
		if len(fields) != 2 {
			return "", fmt.Errorf("rpc: usage: add <uri>")
		}
		t, err := r.session.Add(fields[1])
		if err != nil {
			return "", err
		}
		return t.ID(), nil
	case "list":
		var b strings.Builder
		for _, t := range r.session.ListTorrents() {
			fmt.Fprintf(&b, "%s\t%s\t%s\n", t.ID(), t.InfoHash(), t.Name())
		}
		return b.String(), nil
	case "stop":
		select {
		case r.ShutdownC <- struct{}{}:
		default:
		}
		return "stopping", nil
	default:
		return "", fmt.Errorf("rpc: unknown command %q", fields[0])
	}
}
