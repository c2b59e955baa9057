// Command netcored hosts a bare netcore session and logs lifecycle events,
// the way the teacher's core/main.go wires a concrete gamemode onto
// source/server.Server — except here the "gamemode" is just one diagnostic
// echo message type, since the gameplay layer itself is out of
// scope for this module.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coloracle/netcore/pkg/logger"
	"github.com/coloracle/netcore/pkg/session"
	"github.com/coloracle/netcore/pkg/wire"
)

const (
	version = "1.0.0"

	// msgEcho is a diagnostic reliable, in-order message: whatever a
	// client sends is logged and echoed back unchanged. It exists purely
	// to exercise the dispatch table and the in-order delivery path from
	// a real binary, not to model any gameplay concept.
	msgEcho uint8 = session.FirstUserMessageID
)

type config struct {
	Host       string
	Port       int
	MaxPlayers int
	ServerName string
}

func loadConfig() config {
	return config{
		Host:       "0.0.0.0",
		Port:       4334,
		MaxPlayers: 32,
		ServerName: "netcore diagnostic host",
	}
}

// eventLogger implements session.Listener by logging every lifecycle
// transition, standing in for the gamemode/scoreboard collaborators that
// would normally subscribe to these events.
type eventLogger struct{}

func (eventLogger) OnConnectionJoined(c *session.Connection) {
	logger.Success("connection joined: index=%d guid=%q addr=%s", c.Index, c.GUID, c.Addr)
}
func (eventLogger) OnConnectionLeave(c *session.Connection) {
	logger.Info("connection left: index=%d guid=%q", c.Index, c.GUID)
}
func (eventLogger) OnConnectionBad(c *session.Connection) {
	logger.Warn("connection flagged bad: index=%d guid=%q", c.Index, c.GUID)
}
func (eventLogger) OnConnectionTimedOut(c *session.Connection) {
	logger.Warn("connection timed out: index=%d guid=%q", c.Index, c.GUID)
}

func main() {
	logger.Banner("netcore diagnostic host", version)
	cfg := loadConfig()

	s := session.NewSession(sessionConfig(cfg), eventLogger{})
	if err := s.RegisterMessage(msgEcho, "echo", wire.Flags{Option: wire.OptReliable, Control: wire.CtrlInOrder}, handleEcho); err != nil {
		logger.Fatal("register echo message: %v", err)
	}

	if err := s.Start(cfg.Host); err != nil {
		logger.Fatal("start session: %v", err)
	}
	defer s.Close()

	if err := s.Host(); err != nil {
		logger.Fatal("host: %v", err)
	}

	logger.Info("listening on %s", s.LocalAddr())
	logger.Info("max players: %d", cfg.MaxPlayers)
	logger.Info("server name: %s", cfg.ServerName)
	logger.Success("session ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case now := <-ticker.C:
			s.Tick(now.Sub(last))
			last = now
		case sig := <-sigChan:
			logger.Warn("received signal: %v", sig)
			logger.Info("shutting down gracefully...")
			s.Leave()
			logger.Success("session stopped")
			return
		}
	}
}

func handleEcho(sender *session.Sender, msg *wire.Message) {
	logger.Info("echo from %s: %q", sender.Addr, msg.Payload)
	sender.Reply(msgEcho, msg.Payload)
}

func sessionConfig(cfg config) session.Config {
	c := session.DefaultConfig()
	c.PreferredPort = cfg.Port
	c.MaxAllowedConnections = cfg.MaxPlayers
	return c
}
