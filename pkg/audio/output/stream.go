// ABOUTME: Network stream output broadcasting encoded audio over WebSocket
// ABOUTME: Listeners get a JSON hello, binary audio packets and tag updates
package output

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/encode"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

const (
	streamWriteDeadline = 10 * time.Second
	streamPingInterval  = 30 * time.Second
	streamSendQueue     = 256
)

// StreamHello describes the stream to a listener; it is resent whenever
// the format changes
type StreamHello struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
	Playing    bool   `json:"playing"`
}

// StreamTag carries song metadata to listeners
type StreamTag struct {
	Type   string `json:"type"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Title  string `json:"title,omitempty"`
	Name   string `json:"name,omitempty"`
}

type streamClient struct {
	conn     *websocket.Conn
	sendChan chan interface{}
}

// Stream serves the played audio to any number of WebSocket listeners.
// It paces itself in real time since no listener provides a clock.
type Stream struct {
	name     string
	codec    string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	enc     encode.Encoder
	format  audio.Format
	tag     *tag.Tag

	timer *timer
}

// NewStream creates a stream output; "codec" selects "pcm" (default) or "opus"
func NewStream(name string, p Params) (*Stream, error) {
	codec := p.String("codec", "pcm")
	// validate the codec name up front so a typo fails at startup
	probe, err := encode.New(codec, audio.Format{SampleRate: 48000, Format: audio.SampleFormatS16, Channels: 2})
	if err != nil {
		return nil, err
	}
	probe.Close()

	return &Stream{
		name:  name,
		codec: codec,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}, nil
}

// Listeners returns the number of connected clients
func (s *Stream) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// helloLocked describes the current state; s.mu must be held
func (s *Stream) helloLocked() StreamHello {
	h := StreamHello{Type: "stream/hello", Name: s.name}
	if s.enc != nil {
		h.Codec = s.enc.Name()
		h.SampleRate = s.format.SampleRate
		h.Channels = s.format.Channels
		h.BitDepth = s.format.Format.Bits()
		h.Playing = true
	}
	return h
}

func newStreamTag(t *tag.Tag) StreamTag {
	return StreamTag{
		Type:   "stream/tag",
		Artist: t.Get(tag.Artist),
		Album:  t.Get(tag.Album),
		Title:  t.Get(tag.Title),
		Name:   t.Get(tag.Name),
	}
}

// broadcastLocked queues msg for every client, dropping it for clients
// that fall behind; s.mu must be held
func (s *Stream) broadcastLocked(msg interface{}) {
	for c := range s.clients {
		select {
		case c.sendChan <- msg:
		default:
			log.Debug().Str("output", s.name).Msg("stream listener too slow, dropping message")
		}
	}
}

// ServeHTTP upgrades the request and registers a listener
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("stream upgrade failed")
		return
	}

	c := &streamClient{conn: conn, sendChan: make(chan interface{}, streamSendQueue)}

	s.mu.Lock()
	c.sendChan <- s.helloLocked()
	if s.tag != nil {
		c.sendChan <- newStreamTag(s.tag)
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	log.Info().Str("output", s.name).Str("remote", r.RemoteAddr).Msg("stream listener connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		clientWriter(c)
	}()

	// drain incoming frames so control messages are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("stream listener error")
			}
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, c)
	close(c.sendChan)
	s.mu.Unlock()
	<-done
	conn.Close()

	log.Info().Str("output", s.name).Str("remote", r.RemoteAddr).Msg("stream listener disconnected")
}

// clientWriter sends queued messages and keeps the connection alive
func clientWriter(c *streamClient) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}

			switch v := msg.(type) {
			case []byte:
				c.conn.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
				if err := c.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Debug().Err(err).Msg("error writing binary message")
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					log.Error().Err(err).Msg("error marshaling message")
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Debug().Err(err).Msg("error writing text message")
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(streamWriteDeadline)); err != nil {
				return
			}
		}
	}
}

// Open creates the encoder and announces the format to listeners
func (s *Stream) Open(f audio.Format) (audio.Format, error) {
	enc, err := encode.New(s.codec, f)
	if err != nil {
		return f, err
	}

	s.mu.Lock()
	s.enc = enc
	s.format = enc.Format()
	s.broadcastLocked(s.helloLocked())
	s.mu.Unlock()

	s.timer = newTimer(enc.Format())
	return enc.Format(), nil
}

func (s *Stream) Play(p []byte) (int, error) {
	if !s.timer.isStarted() {
		s.timer.startNow()
	}

	packets, err := s.enc.Encode(p)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for _, pkt := range packets {
		s.broadcastLocked(pkt)
	}
	s.mu.Unlock()

	s.timer.add(len(p))
	s.timer.synchronize()
	return len(p), nil
}

func (s *Stream) Drain() error {
	if s.timer != nil && s.timer.isStarted() {
		s.timer.synchronize()
	}
	return nil
}

func (s *Stream) Cancel() {
	if s.timer != nil {
		s.timer.reset()
	}
}

// Pause keeps the listeners connected; the real-time clock restarts on resume
func (s *Stream) Pause() error {
	s.timer.reset()
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.enc != nil {
		err = s.enc.Close()
		s.enc = nil
	}
	s.broadcastLocked(s.helloLocked())
	s.timer = nil
	return err
}

// SendTag forwards song metadata to the listeners
func (s *Stream) SendTag(t *tag.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tag = t.Clone()
	s.broadcastLocked(newStreamTag(t))
}
