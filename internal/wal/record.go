// Package wal implements the durable write-ahead log: the log codec (one
// tagged record per newline-terminated line) and the append-only file that
// records must be flushed to before a write is acknowledged to a client.
package wal

import (
	"bytes"
	"errors"

	json "github.com/goccy/go-json"

	"kvreplica/internal/value"
)

// Op tags which of the three record shapes a Record holds.
type Op string

const (
	OpSet  Op = "SET"
	OpDel  Op = "DEL"
	OpBulk Op = "BULK"
)

// ErrInvalidRecord is returned by DecodeLine when a line cannot be parsed
// into a well-formed Record — the signal that triggers the "corrupt"
// counter during replay rather than aborting startup (spec invariant 4).
var ErrInvalidRecord = errors.New("wal: invalid record")

// KV is one (key, value) pair in a BULK record. Order matters — the
// sequence of pairs inside a BULK record is preserved on apply (spec
// invariant on BULK atomicity and ordering).
type KV struct {
	K string        `json:"k"`
	V value.Value   `json:"v"`
}

// Record is the canonical, codec-agnostic representation of a single
// durable mutation. Exactly one of (Key+Val) or Items is populated,
// depending on Op. This mirrors the teacher's walEntry (internal/store in
// ppriyankuu-godkv) generalized from a single op to the spec's SET/DEL/BULK
// trio, and Deepu-b-Hermes's WALRecord in keeping logical intent separate
// from on-disk framing.
type Record struct {
	Op    Op          `json:"op"`
	Key   string      `json:"k,omitempty"`
	Val   value.Value `json:"v,omitempty"`
	Items []KV        `json:"data,omitempty"`
}

// EncodeLine serializes rec as a single line terminated by a newline.
func EncodeLine(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')
	return data, nil
}

// ErrBlankLine is returned by DecodeLine for a whitespace-only line, so
// callers can skip it without counting it as corruption, per spec.md §4.1
// ("tolerate any whitespace-only line by skipping it").
var ErrBlankLine = errors.New("wal: blank line")

// DecodeLine parses a single log line (without its trailing newline) back
// into a Record. A whitespace-only line is reported distinctly via
// ErrBlankLine.
func DecodeLine(line []byte) (Record, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Record{}, ErrBlankLine
	}

	var rec Record
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&rec); err != nil {
		return Record{}, ErrInvalidRecord
	}

	switch rec.Op {
	case OpSet:
		if rec.Key == "" {
			return Record{}, ErrInvalidRecord
		}
	case OpDel:
		if rec.Key == "" {
			return Record{}, ErrInvalidRecord
		}
	case OpBulk:
		if rec.Items == nil {
			return Record{}, ErrInvalidRecord
		}
	default:
		return Record{}, ErrInvalidRecord
	}
	return rec, nil
}

// SetRecord builds a SET record.
func SetRecord(key string, v value.Value) Record {
	return Record{Op: OpSet, Key: key, Val: v}
}

// DelRecord builds a DEL record.
func DelRecord(key string) Record {
	return Record{Op: OpDel, Key: key}
}

// BulkRecord builds a BULK record preserving item order.
func BulkRecord(items []KV) Record {
	return Record{Op: OpBulk, Items: items}
}

// IsBlankLineErr reports whether err is the sentinel returned for a
// whitespace-only line, used by Replay to distinguish "skip silently"
// from "count as corrupt".
func IsBlankLineErr(err error) bool {
	return errors.Is(err, ErrBlankLine)
}
