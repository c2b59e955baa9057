// Command netclient joins a netcored host and exercises the echo message,
// giving the session's client-side join/leave path a real binary to run
// under, the way netcored exercises the host side.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/coloracle/netcore/pkg/logger"
	"github.com/coloracle/netcore/pkg/session"
	"github.com/coloracle/netcore/pkg/wire"
)

const msgEcho uint8 = session.FirstUserMessageID

func main() {
	hostAddr := flag.String("host", "127.0.0.1:4334", "address of the netcored host to join")
	localPort := flag.Int("port", 0, "local port to bind (0 picks any free port)")
	flag.Parse()

	// A fresh connection GUID per run, the way a disconnected client can't
	// know in advance which GUID the host will accept as unique.
	guid := uuid.New().String()

	addr, err := net.ResolveUDPAddr("udp", *hostAddr)
	if err != nil {
		logger.Fatal("resolve host address %q: %v", *hostAddr, err)
	}

	cfg := session.DefaultConfig()
	cfg.PreferredPort = *localPort

	s := session.NewSession(cfg, eventLogger{})
	if err := s.RegisterMessage(msgEcho, "echo", wire.Flags{Option: wire.OptReliable, Control: wire.CtrlInOrder}, handleEcho); err != nil {
		logger.Fatal("register echo message: %v", err)
	}
	if err := s.Start("0.0.0.0"); err != nil {
		logger.Fatal("start session: %v", err)
	}
	defer s.Close()

	logger.Info("joining %s as guid=%s", addr, guid)
	if err := s.Join(addr, guid); err != nil {
		logger.Fatal("join: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	last := time.Now()
	echoedOnce := false

	for {
		select {
		case now := <-ticker.C:
			s.Tick(now.Sub(last))
			last = now
			if s.State() == session.SessionConnected && !echoedOnce {
				echoedOnce = true
				for _, c := range s.Connections() {
					s.SendMessage(c, msgEcho, []byte("hello from "+guid))
				}
			}
		case sig := <-sigChan:
			logger.Warn("received signal: %v", sig)
			s.Leave()
			return
		}
	}
}

func handleEcho(sender *session.Sender, msg *wire.Message) {
	logger.Info("echoed back: %q", msg.Payload)
}

type eventLogger struct{}

func (eventLogger) OnConnectionJoined(c *session.Connection) {
	logger.Success("joined: index=%d guid=%q", c.Index, c.GUID)
}
func (eventLogger) OnConnectionLeave(c *session.Connection) {
	logger.Info("left: index=%d", c.Index)
}
func (eventLogger) OnConnectionBad(c *session.Connection) {
	logger.Warn("connection to host flagged bad")
}
func (eventLogger) OnConnectionTimedOut(c *session.Connection) {
	logger.Warn("connection to host timed out")
}
