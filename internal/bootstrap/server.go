package bootstrap

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fedlearn-node/internal/errs"
	"fedlearn-node/internal/httpapi"
)

// Server is the admin HTTP endpoint: GET /status plus
// POST /command recognising mesh|bootmesh|peers|local|status.
type Server struct {
	node   *Node
	router chi.Router
}

// NewServer builds the chi router for the bootstrap admin surface.
func NewServer(n *Node) *Server {
	s := &Server{node: n}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/status", s.handleStatus)
	r.Post("/command", s.handleCommand)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteOK(w, map[string]string{"status": "running"})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd httpapi.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, fmt.Errorf("malformed command body: %w", err))
		return
	}

	result, err := s.dispatch(cmd)
	if err != nil {
		status := http.StatusInternalServerError
		if err == errs.ErrUnknownCommand {
			status = http.StatusBadRequest
		}
		httpapi.WriteError(w, status, err)
		return
	}
	httpapi.WriteOK(w, result)
}

func (s *Server) dispatch(cmd httpapi.Command) (any, error) {
	switch cmd.Cmd {
	case "mesh":
		return s.node.Directory.Snapshot(), nil
	case "bootmesh":
		return s.node.Directory.Snapshot(), nil
	case "peers":
		return s.node.Overlay.Peers(), nil
	case "local":
		return s.node.Overlay.Addrs(), nil
	case "status":
		return map[string]string{"status": "running"}, nil
	default:
		return nil, errs.ErrUnknownCommand
	}
}
