package session

// Listener receives session lifecycle notifications, replacing a global
// pub/sub event bus with a single small interface a caller implements
// directly.
type Listener interface {
	OnConnectionJoined(c *Connection)
	OnConnectionLeave(c *Connection)
	OnConnectionBad(c *Connection)
	OnConnectionTimedOut(c *Connection)
}

// NoopListener implements Listener with no-op methods, for callers that
// only care about some of the lifecycle events.
type NoopListener struct{}

func (NoopListener) OnConnectionJoined(c *Connection)  {}
func (NoopListener) OnConnectionLeave(c *Connection)   {}
func (NoopListener) OnConnectionBad(c *Connection)     {}
func (NoopListener) OnConnectionTimedOut(c *Connection) {}
