// Package id generates the prefixed ULIDs that name sessions, gateway
// connections and trace spans, e.g. sess_01J9Z3K4XQ8V7T2M5N6P0R1S2T.
//
// ULIDs sort by creation time and are monotonic within a millisecond, so
// a replacement session always sorts after the one it replaced.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the prefix naming what an id identifies
type Kind string

const (
	KindSession    Kind = "sess"
	KindConnection Kind = "conn"
	KindRequest    Kind = "req"
)

// SessionID identifies a terminal session
type SessionID string

// ConnectionID identifies a gateway connection
type ConnectionID string

// RequestID identifies an HTTP request or a traced gateway message
type RequestID string

func (id SessionID) String() string    { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

var source = struct {
	sync.Mutex
	entropy io.Reader
}{entropy: ulid.Monotonic(rand.Reader, 0)}

func next() ulid.ULID {
	source.Lock()
	defer source.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), source.entropy)
}

// New returns a fresh id of the given kind.
func New(kind Kind) string {
	return string(kind) + "_" + next().String()
}

func NewSessionID() SessionID       { return SessionID(New(KindSession)) }
func NewConnectionID() ConnectionID { return ConnectionID(New(KindConnection)) }
func NewRequestID() RequestID       { return RequestID(New(KindRequest)) }

// Parse splits a prefixed id into its kind and ULID.
func Parse(s string) (Kind, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok {
		return "", ulid.ULID{}, fmt.Errorf("id %q: missing kind prefix", s)
	}
	kind := Kind(prefix)
	switch kind {
	case KindSession, KindConnection, KindRequest:
	default:
		return "", ulid.ULID{}, fmt.Errorf("id %q: unknown kind %q", s, prefix)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", s, err)
	}
	return kind, u, nil
}

// Created returns when a prefixed id was generated, to the millisecond.
func Created(s string) (time.Time, error) {
	_, u, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
