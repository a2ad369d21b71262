package ws

import "nhooyr.io/websocket"

// Client is one accepted WebSocket connection. It is the connection handle
// the presence registry stores for a session.
type Client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	done  <-chan struct{}
	conns *ConnManager
}

func newClient(id string, conn *websocket.Conn, conns *ConnManager) *Client {
	return &Client{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		conns: conns,
	}
}

// ID returns the connection ID assigned at accept time.
func (c *Client) ID() string { return c.id }

// Send queues data without blocking.
func (c *Client) Send(data []byte) bool {
	return c.conns.Send(c, data)
}
