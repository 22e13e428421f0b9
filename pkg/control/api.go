// Package control implements the local control surface: a small
// JSON-over-socket API through which operators and integration tests
// observe a running stack — status, tunnel list, cache statistics —
// without reaching into its internals. The application-facing HTTP
// front-end is a separate collaborator; this surface is local-only.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/stack"
)

// Request is one control API call.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response answers one Request.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// StatusResult is the GetStatus payload.
type StatusResult struct {
	DeviceId string `json:"device_id"`
	State    string `json:"state"`
}

// TunnelResult is one entry in the ListTunnels payload.
type TunnelResult struct {
	RemoteId string `json:"remote_id"`
	State    string `json:"state"`
}

// NocStatResult is the NocStat payload.
type NocStatResult struct {
	Count      int    `json:"count"`
	TotalBytes uint64 `json:"total_bytes"`
}

// Server exposes one stack over the control API.
type Server struct {
	mu    sync.RWMutex
	stack *stack.Stack
}

// NewServer creates a server over the given stack.
func NewServer(s *stack.Stack) *Server {
	return &Server{stack: s}
}

// Serve accepts control connections until the context ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			go s.handleConnection(ctx, conn)
		}
	}
}

// handleConnection serves one client: newline-delimited JSON requests,
// one response each.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			var request Request
			if err := decoder.Decode(&request); err != nil {
				return
			}
			response := s.HandleRequest(request)
			if err := encoder.Encode(response); err != nil {
				return
			}
		}
	}
}

// HandleRequest processes a single API request. Exported so in-process
// callers (cmd tools, tests) can drive the API without a socket.
func (s *Server) HandleRequest(request Request) Response {
	switch request.Method {
	case "GetStatus":
		return s.handleGetStatus(request)
	case "ListTunnels":
		return s.handleListTunnels(request)
	case "NocStat":
		return s.handleNocStat(request)
	default:
		return Response{
			ID:    request.ID,
			Error: fmt.Sprintf("unknown method: %s", request.Method),
		}
	}
}

func (s *Server) handleGetStatus(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Response{
		ID: request.ID,
		Result: &StatusResult{
			DeviceId: s.stack.Identity().BID(),
			State:    s.stack.State().String(),
		},
	}
}

func (s *Server) handleListTunnels(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tunnels []TunnelResult
	for _, remoteId := range s.stack.TunnelManager.List() {
		c, ok := s.stack.TunnelManager.Get(remoteId)
		if !ok {
			continue
		}
		tunnels = append(tunnels, TunnelResult{
			RemoteId: remoteId,
			State:    c.State().String(),
		})
	}
	return Response{ID: request.ID, Result: tunnels}
}

func (s *Server) handleNocStat(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stat := s.stack.Noc.Stat()
	return Response{
		ID: request.ID,
		Result: &NocStatResult{
			Count:      stat.Count,
			TotalBytes: stat.TotalBytes,
		},
	}
}
