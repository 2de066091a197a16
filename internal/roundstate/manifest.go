package roundstate

import (
	"fmt"
	"strings"

	"fedlearn-node/internal/errs"
)

// DatasetManifest is the parsed form of the comma-separated signed-URL list
// fetched from the object store.
type DatasetManifest struct {
	ChunkURLs []string
}

// ParseManifest splits the manifest body into its ordered chunk URLs and
// validates the count against the task's declared totalChunks: the number
// of manifest entries must equal Task.totalChunks.
func ParseManifest(body string, totalChunks uint32) (DatasetManifest, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return DatasetManifest{}, fmt.Errorf("roundstate: empty manifest body")
	}
	urls := strings.Split(body, ",")
	for i, u := range urls {
		urls[i] = strings.TrimSpace(u)
	}
	if uint32(len(urls)) != totalChunks {
		return DatasetManifest{}, fmt.Errorf("%w: manifest has %d entries, task declares %d",
			errs.ErrChunkCountMismatch, len(urls), totalChunks)
	}
	return DatasetManifest{ChunkURLs: urls}, nil
}

// URLFor returns the signed URL for chunkIdx, or an error if out of range.
func (m DatasetManifest) URLFor(chunkIdx uint32) (string, error) {
	if int(chunkIdx) >= len(m.ChunkURLs) {
		return "", fmt.Errorf("roundstate: chunk index %d out of range (%d chunks)", chunkIdx, len(m.ChunkURLs))
	}
	return m.ChunkURLs[chunkIdx], nil
}
