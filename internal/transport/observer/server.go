// Package observer streams assignment events to websocket subscribers on
// loopback addresses.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"questingbots.ai/internal/sim/ledger"
)

const ProtocolVersion = "1.0"

// SubscribeMsg opens or updates a subscription. An empty AgentIDs receives
// events for every agent.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AgentIDs        []string `json:"agent_ids,omitempty"`
}

type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Event           ledger.Event `json:"event"`
}

type QuestInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
	Repeatable bool   `json:"repeatable"`
	Active     int    `json:"active"`
}

type AgentInfo struct {
	AgentID      string `json:"agent_id"`
	Questing     bool   `json:"questing"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Quest        string `json:"quest,omitempty"`
	Objective    string `json:"objective,omitempty"`
	Status       string `json:"status,omitempty"`
}

type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	GraphBuilt      bool        `json:"graph_built"`
	StaticPaths     int         `json:"static_paths"`
	Quests          []QuestInfo `json:"quests"`
	Agents          []AgentInfo `json:"agents"`
}

type subscriber struct {
	out    chan []byte
	filter map[string]bool
}

type Server struct {
	state func() BootstrapResponse
	log   *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewServer serves bootstrap snapshots produced by state and fans out events
// passed to Emit.
func NewServer(state func() BootstrapResponse, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		state: state,
		log:   logger,
		subs:  map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Emit sends ev to every matching subscriber without blocking. Slow
// subscribers lose events.
func (s *Server) Emit(ev ledger.Event) error {
	b, err := json.Marshal(EventMsg{Type: "EVENT", ProtocolVersion: ProtocolVersion, Event: ev})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if len(sub.filter) > 0 && !sub.filter[ev.AgentID] {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := BootstrapResponse{}
		if s.state != nil {
			resp = s.state()
		}
		resp.ProtocolVersion = ProtocolVersion
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func filterOf(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func readSubscribe(msg []byte) (SubscribeMsg, bool) {
	var sub SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	return sub, sub.Type == "SUBSCRIBE" && sub.ProtocolVersion == ProtocolVersion
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The first message must be SUBSCRIBE.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := readSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 1024)
		s.mu.Lock()
		s.subs[sid] = &subscriber{out: out, filter: filterOf(sub.AgentIDs)}
		s.mu.Unlock()
		s.log.Debug("observer subscribed", zap.String("session", sid), zap.Strings("agents", sub.AgentIDs))
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates replace the agent filter.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			upd, ok := readSubscribe(msg)
			if !ok {
				continue
			}
			s.mu.Lock()
			if cur := s.subs[sid]; cur != nil {
				cur.filter = filterOf(upd.AgentIDs)
			}
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		<-writeErr
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
