package trainer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"

	"fedlearn-node/internal/errs"
	"fedlearn-node/internal/httpapi"
)

// Server is the trainer role's control surface: the same GET /status, POST
// /command shape the client exposes, restricted to the commands
// that make sense for a trainer (no advertize/train, which only a round's
// originating client performs).
type Server struct {
	trainer *Trainer
	router  *mux.Router
}

// NewServer builds the trainer's HTTP control surface around tr.
func NewServer(tr *Trainer) *Server {
	s := &Server{trainer: tr}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteOK(w, s.trainer.Status())
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
	tr := s.trainer
	switch cmd.Cmd {
	case "connect":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("connect: expected [multiaddr]")
		}
		id, err := tr.overlay.Connect(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		return map[string]string{"peerId": id.String()}, nil

	case "join":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("join: expected [topic]")
		}
		topic := cmd.Args[0]
		taskID, err := strconv.ParseUint(topic, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("join: topic must be the numeric taskId: %w", err)
		}
		if err := tr.Join(taskID, topic); err != nil {
			return nil, err
		}
		return map[string]string{"topic": topic}, nil

	case "leave":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("leave: expected [topic]")
		}
		if err := tr.overlay.Unsubscribe(cmd.Args[0]); err != nil {
			return nil, err
		}
		return map[string]string{"topic": cmd.Args[0]}, nil

	case "publish":
		if len(cmd.Args) < 2 {
			return nil, fmt.Errorf("publish: expected [topic, message]")
		}
		if err := tr.overlay.Publish(cmd.Args[0], []byte(cmd.Args[1])); err != nil {
			return nil, err
		}
		return map[string]string{"topic": cmd.Args[0]}, nil

	case "mesh":
		topics := tr.overlay.Topics()
		out := make(map[string][]string, len(topics))
		for _, t := range topics {
			out[t] = peerIDStrings(tr.overlay.Mesh(t))
		}
		return out, nil

	case "peers":
		return peerIDStrings(tr.overlay.Peers()), nil

	case "local":
		return tr.overlay.Addrs(), nil

	case "topics":
		return tr.overlay.Topics(), nil

	default:
		return nil, errs.ErrUnknownCommand
	}
}

func peerIDStrings(ids []peer.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
