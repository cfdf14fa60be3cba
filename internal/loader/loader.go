// Package loader provides bulk record sources for the Tier 1 load path.
package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
	"github.com/recordcache/recordcache/pkg/utils"
)

// maxLineBytes bounds a single JSONL line; records are small by contract.
const maxLineBytes = 1 << 20

// JSONLinesSource reads basic records from a JSON-lines file. Each line holds
// one BasicRecord, optionally with a "size" field declaring its accounted
// footprint; a missing or zero size lets the store charge the compressed
// payload length instead. Blank lines are skipped; a malformed line fails the
// whole read, since a silent gap in the record set is worse than a loud one.
type JSONLinesSource struct {
	path   string
	logger *utils.Logger
}

// NewJSONLinesSource creates a source over path. logger may be nil.
func NewJSONLinesSource(path string, logger *utils.Logger) *JSONLinesSource {
	return &JSONLinesSource{path: path, logger: logger}
}

type jsonlLine struct {
	types.BasicRecord
	Size int64 `json:"size,omitempty"`
}

// Records implements types.BulkSource. Records are returned in file order,
// which is the load order the store honors.
func (s *JSONLinesSource) Records(ctx context.Context) ([]types.BulkRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeConfigLoad, "failed to open record file %s", s.path).
			WithComponent("loader").WithOperation("Records").WithCause(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var records []types.BulkRecord
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var parsed jsonlLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			return nil, errors.Newf(errors.ErrCodeCorruptEntry,
				"malformed record on line %d of %s", lineNo, s.path).
				WithComponent("loader").WithOperation("Records").
				WithDetail("line", lineNo).WithCause(err)
		}
		if parsed.Key.ID == "" || parsed.Key.Category == "" {
			return nil, errors.Newf(errors.ErrCodeCorruptEntry,
				"record on line %d of %s has an incomplete key", lineNo, s.path).
				WithComponent("loader").WithOperation("Records").
				WithDetail("line", lineNo)
		}

		payload, err := json.Marshal(&parsed.BasicRecord)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeInternalError,
				"failed to encode record %s", parsed.Key).
				WithComponent("loader").WithOperation("Records").WithCause(err)
		}
		records = append(records, types.BulkRecord{
			Key:     parsed.Key,
			Payload: payload,
			Size:    parsed.Size,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Newf(errors.ErrCodeConfigLoad, "failed to read record file %s", s.path).
			WithComponent("loader").WithOperation("Records").WithCause(err)
	}

	s.logger.Info("read %d records from %s", len(records), s.path)
	return records, nil
}

// SliceSource serves a fixed record set from memory. Useful for tests and for
// callers that assemble records themselves.
type SliceSource []types.BulkRecord

// Records implements types.BulkSource. The backing slice is copied so later
// mutation of the source does not reach the caller.
func (s SliceSource) Records(ctx context.Context) ([]types.BulkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.BulkRecord, len(s))
	copy(out, s)
	return out, nil
}
