package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"

	"fedlearn-node/internal/errs"
	"fedlearn-node/internal/httpapi"
)

// Server is the client role's control surface: GET /status,
// POST /command recognising the full client+trainer command vocabulary
// (connect/advertize/train/join/leave/publish/mesh/bootmesh/peers/local/
// topics), and POST /generate-presigned-url. Routed with gorilla/mux, a
// deliberate split from the bootstrap server's chi router: bootstrap is a
// read-mostly admin surface, this one drives round state transitions.
type Server struct {
	client *Client
	router *mux.Router
}

// NewServer builds the client's HTTP control surface around c.
func NewServer(c *Client) *Server {
	s := &Server{client: c}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/generate-presigned-url", s.handlePresign).Methods(http.MethodPost)
	r.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteOK(w, s.client.Status())
}

// handleResults resolves the current round's submitted weightsHash set into
// fresh signed download URLs, for a user to pull down the trained chunks
// once the round has settled.
func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	urls, err := s.client.ResultURLs()
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httpapi.WriteOK(w, map[string]any{"results": urls})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd httpapi.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, fmt.Errorf("malformed command body: %w", err))
		return
	}

	result, err := s.dispatch(r.Context(), cmd)
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

// dispatch is an exhaustive switch over the tagged command variant, rather
// than a string-keyed table of closures.
func (s *Server) dispatch(ctx context.Context, cmd httpapi.Command) (any, error) {
	c := s.client
	switch cmd.Cmd {
	case "connect":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("connect: expected [multiaddr]")
		}
		id, err := c.overlay.Connect(cmd.Args[0])
		if err != nil {
			return nil, err
		}
		return map[string]string{"peerId": id.String()}, nil

	case "advertize":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("advertize: expected [taskId]")
		}
		taskID, err := strconv.ParseUint(cmd.Args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("advertize: invalid taskId: %w", err)
		}
		if err := c.Advertize(ctx, taskID); err != nil {
			return nil, err
		}
		return map[string]string{"taskId": cmd.Args[0]}, nil

	case "train":
		if len(cmd.Args) < 2 {
			return nil, fmt.Errorf(`train: expected [taskId, "<modelHash> <manifestURL> <pubKey>"]`)
		}
		taskID, err := strconv.ParseUint(cmd.Args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("train: invalid taskId: %w", err)
		}
		fields := strings.Fields(cmd.Args[1])
		if len(fields) < 2 {
			return nil, fmt.Errorf("train: expected \"<modelHash> <manifestURL> [pubKey]\"")
		}
		var pubKey []byte
		if len(fields) >= 3 {
			pubKey = []byte(fields[2])
		}
		if err := c.Train(ctx, taskID, fields[0], fields[1], pubKey); err != nil {
			return nil, err
		}
		return map[string]string{"taskId": cmd.Args[0]}, nil

	case "join":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("join: expected [topic]")
		}
		if _, err := c.overlay.Subscribe(cmd.Args[0]); err != nil {
			return nil, err
		}
		return map[string]string{"topic": cmd.Args[0]}, nil

	case "leave":
		if len(cmd.Args) < 1 {
			return nil, fmt.Errorf("leave: expected [topic]")
		}
		if err := c.overlay.Unsubscribe(cmd.Args[0]); err != nil {
			return nil, err
		}
		return map[string]string{"topic": cmd.Args[0]}, nil

	case "publish":
		if len(cmd.Args) < 2 {
			return nil, fmt.Errorf("publish: expected [topic, message]")
		}
		if err := c.overlay.Publish(cmd.Args[0], []byte(cmd.Args[1])); err != nil {
			return nil, err
		}
		return map[string]string{"topic": cmd.Args[0]}, nil

	case "mesh":
		topics := c.overlay.Topics()
		out := make(map[string][]string, len(topics))
		for _, t := range topics {
			out[t] = peerIDStrings(c.overlay.Mesh(t))
		}
		return out, nil

	case "bootmesh":
		if c.BootstrapAddr == "" {
			return nil, fmt.Errorf("bootmesh: no bootstrap address configured")
		}
		return queryBootstrap(c.BootstrapAddr, httpapi.Command{Cmd: "mesh"})

	case "peers":
		return peerIDStrings(c.overlay.Peers()), nil

	case "local":
		return c.overlay.Addrs(), nil

	case "topics":
		return c.overlay.Topics(), nil

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

type presignRequest struct {
	Hash string `json:"hash"`
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hash == "" {
		httpapi.WriteError(w, http.StatusBadRequest, fmt.Errorf("generate-presigned-url: expected {hash}"))
		return
	}

	url, err := s.client.store.PresignGet(req.Hash, time.Hour)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, fmt.Errorf("storage: presign failed: %w", err))
		return
	}
	httpapi.WriteOK(w, map[string]string{"presignedUrl": url, "hash": req.Hash})
}
