package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artificial-james/tombflow"
)

const closeGracePeriod = time.Second

// WebSocketPort carries one message per binary websocket message.
// Ports cannot be transferred through it.
type WebSocketPort struct {
	binding
	id    string
	conn  *websocket.Conn
	wmu   sync.Mutex
	inbox *mailbox
	once  sync.Once
}

// NewWebSocketPort starts reading from conn. Both ends must use the same id.
func NewWebSocketPort(id string, conn *websocket.Conn) *WebSocketPort {
	p := &WebSocketPort{id: id, conn: conn, inbox: newMailbox()}
	go p.readLoop()
	return p
}

func (p *WebSocketPort) readLoop() {
	defer p.inbox.close()
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if p.inbox.push(delivery{payload: data}) != nil {
			return
		}
	}
}

func (p *WebSocketPort) ID() string {
	return p.id
}

func (p *WebSocketPort) Post(m Message) error {
	if len(m.Ports) > 0 {
		return tombflow.NewError(tombflow.CodeDataClone, "ports cannot cross a websocket", nil)
	}
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return channelClosed(err)
	}
	return nil
}

func (p *WebSocketPort) Receive(ctx context.Context) (Message, error) {
	return receive(ctx, p.inbox)
}

// Close sends a close frame and closes the connection.
func (p *WebSocketPort) Close() error {
	var err error
	p.once.Do(func() {
		p.wmu.Lock()
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		p.wmu.Unlock()
		err = p.conn.Close()
		p.inbox.close()
	})
	return err
}
