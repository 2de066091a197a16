// Package roundstate holds the client's in-memory projection of a training
// round: the ledger-authoritative Task mirrored locally, the
// chunk→trainer assignment, and per-chunk submission tracking.
package roundstate

import (
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"

	"fedlearn-node/internal/errs"
)

// Task mirrors the ledger's authoritative task record.
type Task struct {
	TaskID          uint64
	Depositor       string
	ModelRef        string
	DatasetRef      string
	TotalChunks     uint32
	RemainingChunks uint32
	PerChunkReward  uint64
	Exists          bool
}

// SubmissionState is the lifecycle of one chunk's assignment.
type SubmissionState int

const (
	Unassigned SubmissionState = iota
	Assigned
	Submitted
)

func (s SubmissionState) String() string {
	switch s {
	case Assigned:
		return "assigned"
	case Submitted:
		return "submitted"
	default:
		return "unassigned"
	}
}

// ChunkState tracks one chunk's assignment and submission outcome.
type ChunkState struct {
	Index       uint32
	State       SubmissionState
	Trainer     peer.ID
	WeightsHash string
}

// Phase is the client round state machine's current state.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseAdvertising Phase = "Advertising"
	PhaseAssembling  Phase = "Assembling"
	PhaseTraining    Phase = "Training"
	PhaseSettling    Phase = "Settling"
	PhaseDone        Phase = "Done"
	PhaseAborted     Phase = "Aborted"
)

// Round holds everything the client tracks for one in-flight task. Not
// concurrency-safe by itself; callers serialize access — a single-writer
// discipline owned by the client's state-machine task.
type Round struct {
	Task  Task
	Topic string
	Phase Phase

	Candidates map[peer.ID]struct{} // assembled trainer set, frozen at Training entry
	Chunks     []ChunkState
	AbortErr   error
}

// NewRound creates a round in Idle for the given task, not yet advertising.
func NewRound(task Task) *Round {
	return &Round{Task: task, Phase: PhaseIdle}
}

// Advertise transitions Idle -> Advertising and records the round topic.
func (r *Round) Advertise(topic string) {
	r.Topic = topic
	r.Phase = PhaseAdvertising
	r.Candidates = make(map[peer.ID]struct{})
}

// Assemble transitions Advertising -> Assembling; candidates accumulate via
// AddCandidate until Freeze is called.
func (r *Round) Assemble() {
	r.Phase = PhaseAssembling
}

// AddCandidate records a peer with declared role Trainer subscribed to the
// round topic, while still in Assembling.
func (r *Round) AddCandidate(p peer.ID) {
	if r.Candidates == nil {
		r.Candidates = make(map[peer.ID]struct{})
	}
	r.Candidates[p] = struct{}{}
}

// Freeze transitions Assembling -> Training, freezing the candidate set into
// a deterministic round-robin chunk assignment, ascending by peer
// identifier. Returns errs.ErrNoTrainers without transitioning when no
// candidates are present.
func (r *Round) Freeze() ([]ChunkState, error) {
	if len(r.Candidates) == 0 {
		return nil, errs.ErrNoTrainers
	}

	trainers := make([]peer.ID, 0, len(r.Candidates))
	for p := range r.Candidates {
		trainers = append(trainers, p)
	}
	sort.Slice(trainers, func(i, j int) bool { return trainers[i] < trainers[j] })

	chunks := make([]ChunkState, r.Task.TotalChunks)
	for i := range chunks {
		chunks[i] = ChunkState{
			Index:   uint32(i),
			State:   Assigned,
			Trainer: trainers[i%len(trainers)],
		}
	}

	r.Chunks = chunks
	r.Phase = PhaseTraining
	return chunks, nil
}

// NextUnsubmittedChunkFor returns the lowest-index chunk assigned to
// trainer that has not yet been marked Submitted. The WeightsSubmitted
// contract event carries no chunk index of its own, only (trainer,
// weightsHash); since assignment is deterministic round-robin, matching the
// reporting trainer's earliest outstanding chunk is unambiguous as long as
// a trainer processes its assigned chunks sequentially.
func (r *Round) NextUnsubmittedChunkFor(trainer peer.ID) (uint32, bool) {
	for _, c := range r.Chunks {
		if c.Trainer == trainer && c.State != Submitted {
			return c.Index, true
		}
	}
	return 0, false
}

// ObserveSubmission records a WeightsSubmitted event against the matching
// chunk. First-wins on retransmission: a chunk already Submitted is left
// unchanged.
func (r *Round) ObserveSubmission(chunkIdx uint32, weightsHash string) {
	for i := range r.Chunks {
		if r.Chunks[i].Index != chunkIdx {
			continue
		}
		if r.Chunks[i].State == Submitted {
			return
		}
		r.Chunks[i].State = Submitted
		r.Chunks[i].WeightsHash = weightsHash
		return
	}
}

// AllSubmitted reports whether every chunk has reached Submitted.
func (r *Round) AllSubmitted() bool {
	for _, c := range r.Chunks {
		if c.State != Submitted {
			return false
		}
	}
	return len(r.Chunks) > 0
}

// Settle transitions Training -> Settling.
func (r *Round) Settle() { r.Phase = PhaseSettling }

// Finish transitions Settling -> Done.
func (r *Round) Finish() { r.Phase = PhaseDone }

// Abort moves the round to Aborted from any state, recording the cause.
func (r *Round) Abort(err error) {
	r.Phase = PhaseAborted
	r.AbortErr = err
}

// WeightsHashes returns the resolved weightsHash for every submitted chunk,
// which the client turns into fresh signed URLs on request.
func (r *Round) WeightsHashes() []string {
	out := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		if c.State == Submitted {
			out = append(out, c.WeightsHash)
		}
	}
	return out
}
