package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs a NATS server inside the process, for single-node
// deployments and tests.
type EmbeddedServer struct {
	server *server.Server
}

func StartEmbedded(host string, port int) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "streamflix-bus",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
