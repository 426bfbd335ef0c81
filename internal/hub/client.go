package hub

import (
	log "log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

// Client 一条已鉴权的长连接
// 读循环由接入层驱动，写出统一走 send 通道，保证单连接内事件 FIFO
type Client struct {
	ID     string
	UserID uint64

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(connID string, userID uint64, conn *websocket.Conn) *Client {
	return &Client{
		ID:     connID,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue 非阻塞入队，慢消费者直接判死，绝不拖垮广播方
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- payload:
		return true
	default:
		log.Warn("连接写队列已满，踢出慢消费者", "connID", c.ID, "userID", c.UserID)
		c.Close()
		return false
	}
}

// WritePump 唯一向底层连接写出的 goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn("WS 写出失败", "connID", c.ID, "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close 幂等关闭，读写两侧都会收敛
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Done 连接关闭信号
func (c *Client) Done() <-chan struct{} {
	return c.done
}
