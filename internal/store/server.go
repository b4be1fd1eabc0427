package store

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/record"
	"github.com/1ureka/peercall/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server hosts call records over WebSocket for Remote clients. It owns an
// in-memory Store as the authoritative state and relays merge updates and
// snapshot notifications between all connected peers of a call.
type Server struct {
	backing  *Memory
	listener net.Listener
}

// NewServer creates a record server backed by a fresh in-memory store.
func NewServer() *Server {
	return &Server{backing: NewMemory()}
}

// Start begins listening on addr (":0" picks a random port). Returns the
// assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start record server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/store", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

// Close shuts down the listener, preventing new connections.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &serverConn{srv: s, conn: conn, subs: make(map[uint64]func())}
	c.serve()
}

// serverConn is one connected client: a read loop executing requests
// against the backing store, with all writes serialized by a mutex.
type serverConn struct {
	srv  *Server
	conn *websocket.Conn

	writeMu sync.Mutex
	subMu   sync.Mutex
	subs    map[uint64]func() // subscription ID -> cancel
}

func (c *serverConn) serve() {
	defer func() {
		c.subMu.Lock()
		for _, cancel := range c.subs {
			cancel()
		}
		c.subs = nil
		c.subMu.Unlock()
		c.conn.Close()
	}()

	for {
		var req request
		if err := c.conn.ReadJSON(&req); err != nil {
			return
		}
		c.handle(&req)
	}
}

func (c *serverConn) write(resp *response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(resp); err != nil {
		util.LogDebug("record server: write failed: %v", err)
	}
}

func (c *serverConn) result(seq uint64, rec *record.CallRecord, err error) {
	resp := &response{Op: opResult, Seq: seq, Record: rec}
	switch err {
	case nil:
	case ErrNotFound:
		resp.Error = errStrNotFound
	case ErrExists:
		resp.Error = errStrExists
	default:
		resp.Error = err.Error()
	}
	c.write(resp)
}

func (c *serverConn) handle(req *request) {
	ctx := context.Background()

	switch req.Op {
	case opCreate:
		if req.Record == nil {
			c.result(req.Seq, nil, fmt.Errorf("create without record"))
			return
		}
		c.result(req.Seq, nil, c.srv.backing.Create(ctx, req.Record))

	case opGet:
		rec, err := c.srv.backing.Get(ctx, req.CallID)
		c.result(req.Seq, rec, err)

	case opUpdate:
		if req.Patch == nil {
			c.result(req.Seq, nil, fmt.Errorf("update without patch"))
			return
		}
		c.result(req.Seq, nil, c.srv.backing.Update(ctx, req.CallID, *req.Patch))

	case opSubscribe:
		subID := req.Seq
		cancel, err := c.srv.backing.Subscribe(req.CallID, func(rec *record.CallRecord) {
			c.write(&response{Op: opSnapshot, Sub: subID, Record: rec})
		})
		if err != nil {
			c.result(req.Seq, nil, err)
			return
		}
		c.subMu.Lock()
		if c.subs == nil {
			// Connection already torn down.
			c.subMu.Unlock()
			cancel()
			return
		}
		c.subs[subID] = cancel
		c.subMu.Unlock()
		c.result(req.Seq, nil, nil)

	case opUnsubscribe:
		c.subMu.Lock()
		cancel, ok := c.subs[req.Sub]
		if ok {
			delete(c.subs, req.Sub)
		}
		c.subMu.Unlock()
		if ok {
			cancel()
		}
		c.result(req.Seq, nil, nil)

	default:
		c.result(req.Seq, nil, fmt.Errorf("unknown op %q", req.Op))
	}
}
