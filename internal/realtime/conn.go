package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ConnSubscriber adapts a websocket connection to Subscriber. gorilla
// connections allow one concurrent writer, so writes are serialized.
type ConnSubscriber struct {
	id    string
	conn  *websocket.Conn
	mu    sync.Mutex
	once  sync.Once
	email string
}

func NewConnSubscriber(conn *websocket.Conn, email string) *ConnSubscriber {
	return &ConnSubscriber{id: uuid.NewString(), conn: conn, email: email}
}

func (s *ConnSubscriber) ID() string    { return s.id }
func (s *ConnSubscriber) Email() string { return s.email }

func (s *ConnSubscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Join registers the connection on topic and writes ack before any message
// delivered on the topic can reach it.
func (s *ConnSubscriber) Join(h *Hub, topic string, ack []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.Subscribe(topic, s)
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, ack)
}

func (s *ConnSubscriber) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *ConnSubscriber) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	return err
}
