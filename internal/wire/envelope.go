// Package wire defines the round-protocol wire messages: a
// small tagged textual envelope, one concrete payload per tag. Every
// message carries a tag, originator peer id, and task id; receivers drop
// unknown tags and de-duplicate idempotent messages via Dedup (see dedup.go).
package wire

import (
	"encoding/json"
	"fmt"
)

// Tag identifies the payload shape carried by an Envelope.
type Tag string

const (
	TagAnnounceRole Tag = "AnnounceRole"
	TagAdvertise    Tag = "Advertise"
	TagAssign       Tag = "Assign"
	TagSubmitAck    Tag = "SubmitAck"
	TagLog          Tag = "Log"
)

// Envelope is the self-describing record carried over every overlay topic.
// Body is deferred decoding so receivers can drop unknown tags cheaply.
type Envelope struct {
	Tag    Tag             `json:"tag"`
	Origin string          `json:"origin"` // peer id of the publisher
	TaskID uint64          `json:"taskId"`
	Body   json.RawMessage `json:"body"`
}

// Encode wraps a typed payload into an Envelope and marshals it to bytes.
func Encode(tag Tag, origin string, taskID uint64, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s payload: %w", tag, err)
	}
	env := Envelope{Tag: tag, Origin: origin, TaskID: taskID, Body: body}
	return json.Marshal(env)
}

// Decode parses the outer envelope only; callers then decode Body according
// to Tag.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// AnnounceRolePayload populates the bootstrap directory. Address is the
// peer's ledger-signing account (hex), present for Client/Trainer so the
// client can translate a WeightsSubmitted event's trainer address back to
// the overlay peer it assigned the chunk to; empty for Bootstrap.
type AnnounceRolePayload struct {
	Role    string   `json:"role"`
	Topics  []string `json:"topics"`
	Address string   `json:"address,omitempty"`
}

// AdvertisePayload opens a round topic; the envelope's TaskID carries the
// task identifier, so the payload itself is empty but kept for symmetry
// and future extension.
type AdvertisePayload struct{}

// Assignment pairs a chunk index with the trainer peer id responsible for it.
type Assignment struct {
	ChunkIdx      uint32 `json:"chunkIdx"`
	TrainerPeerID string `json:"trainerPeerId"`
}

// AssignPayload distributes the full round's work in one message.
type AssignPayload struct {
	ModelSignedURL    string       `json:"modelSignedUrl"`
	ManifestSignedURL string       `json:"manifestSignedUrl"`
	SessionPubKey     []byte       `json:"sessionPubKey"`
	Assignments       []Assignment `json:"assignments"`
}

// SubmitAckPayload echoes an on-chain submission observed by the client.
type SubmitAckPayload struct {
	ChunkIdx      uint32 `json:"chunkIdx"`
	TrainerPeerID string `json:"trainerPeerId"`
	WeightsHash   string `json:"weightsHash"`
}

// LogPayload carries free-form operator-observability text.
type LogPayload struct {
	Text string `json:"text"`
}
