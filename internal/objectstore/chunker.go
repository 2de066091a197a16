package objectstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// defaultChunkBytes is the target chunk size, 50 KiB.
const defaultChunkBytes = 50 * 1024

// UploadDatasetAsChunks splits a line-oriented dataset file into chunks no
// larger than chunkBytes, preserving the header line (the file's first
// line) on every chunk, uploads each chunk, and returns a signed-URL
// manifest plus the chunk count. The splitter never splits
// across a line, so a single line larger than chunkBytes still ships whole.
func (c *Client) UploadDatasetAsChunks(ctx context.Context, data []byte, chunkBytes int) (manifestURL string, chunkCount int, err error) {
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return "", 0, fmt.Errorf("objectstore: dataset is empty")
	}
	header := scanner.Text()

	var urls []string
	cur := bytes.NewBufferString(header + "\n")
	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		hash, err := c.Upload(ctx, cur.Bytes())
		if err != nil {
			return err
		}
		url, err := c.PresignGet(hash, 0)
		if err != nil {
			return err
		}
		urls = append(urls, url)
		cur = bytes.NewBufferString(header + "\n")
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if cur.Len() > len(header)+1 && cur.Len()+len(line)+1 > chunkBytes {
			if err := flush(); err != nil {
				return "", 0, err
			}
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", 0, fmt.Errorf("objectstore: scan dataset: %w", err)
	}
	if cur.Len() > len(header)+1 {
		if err := flush(); err != nil {
			return "", 0, err
		}
	}

	manifestBody := strings.Join(urls, ",")
	manifestHash, err := c.Upload(ctx, []byte(manifestBody))
	if err != nil {
		return "", 0, err
	}
	manifestURL, err = c.PresignGet(manifestHash, 0)
	if err != nil {
		return "", 0, err
	}
	return manifestURL, len(urls), nil
}
