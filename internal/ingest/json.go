package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// signalsKey is the nested object whose fields are read as top-level columns.
const signalsKey = "signals"

// jsonBatch is the request envelope. Each transaction is kept raw so that one
// malformed field cannot fail the decode of the whole batch.
type jsonBatch struct {
	BatchID      string            `json:"batchId"`
	Transactions []json.RawMessage `json:"transactions"`
}

// ParseJSON reads a {"batchId": ..., "transactions": [...]} body. Keys follow
// the CSV column names in any case or separator style ("senderId", "sender_id").
// Field values get the same defaulting as CSV cells; an element that is not an
// object is counted in Skipped. Only a body that is not a batch envelope is an error.
func ParseJSON(r io.Reader, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var batch jsonBatch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("invalid JSON request body: %w", err)
	}

	res := &Result{BatchID: batch.BatchID}
	for i, raw := range batch.Transactions {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			res.Skipped++
			logger.Warn("skipping transaction that is not an object", "index", i)
			continue
		}

		header, row := flatten(fields)
		res.Records = append(res.Records, parseRow(mapHeader(header), row))
	}

	return res, nil
}

// flatten turns one JSON object into a header and a row of cell text, merging
// the nested signals object. Keys are sorted so duplicate aliases resolve the same way every time.
func flatten(fields map[string]json.RawMessage) (header, row []string) {
	cells := make(map[string]string, len(fields))
	for k, v := range fields {
		if normalizeHeader(k) == signalsKey {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(v, &nested); err == nil {
				for nk, nv := range nested {
					if _, ok := cells[nk]; !ok {
						cells[nk] = cellText(nv)
					}
				}
			}
			continue
		}
		cells[k] = cellText(v)
	}

	header = make([]string, 0, len(cells))
	for k := range cells {
		header = append(header, k)
	}
	sort.Strings(header)

	row = make([]string, len(header))
	for i, k := range header {
		row[i] = cells[k]
	}
	return header, row
}

// cellText renders a JSON value the way it would appear in a CSV cell.
// Strings are unquoted, numbers and booleans keep their literal text, and
// null, objects and arrays become empty.
func cellText(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return ""
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(v)
	}
}
