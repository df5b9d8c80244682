// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bootstrap defines the collective channel the cluster assembly
// phase runs over, plus an in-process implementation used by tests and
// single-process communicators.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Channel is the per-rank handle on the bootstrap network.
//
// AllGather contributes payload for this rank and returns every rank's
// contribution indexed by rank. Slot order is guaranteed to match rank
// order; the canonical server-id assignment depends on it. All payloads
// must have equal length. Barrier blocks until every rank has entered the
// same tag. Both calls are collective: every rank must participate.
type Channel interface {
	Rank() int
	NRanks() int
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)
	Barrier(ctx context.Context, tag int) error
}

type round struct {
	slots [][]byte
	left  int
	done  chan struct{}
}

type session struct {
	id     string
	nRanks int

	mu       sync.Mutex
	gathers  map[int]*round
	barriers map[int]*round
	gens     map[int]int // per-rank allgather generation
}

type inProcess struct {
	rank int
	s    *session
}

// NewInProcess creates nRanks wired channels sharing one in-memory
// session. Intended for tests and single-process use; every rank must be
// driven from its own goroutine.
func NewInProcess(nRanks int) ([]Channel, error) {
	if nRanks <= 0 {
		return nil, fmt.Errorf("bootstrap: nRanks must be positive, got %d", nRanks)
	}

	s := &session{
		id:       uuid.NewString(),
		nRanks:   nRanks,
		gathers:  make(map[int]*round),
		barriers: make(map[int]*round),
		gens:     make(map[int]int),
	}

	chans := make([]Channel, nRanks)
	for r := 0; r < nRanks; r++ {
		chans[r] = &inProcess{rank: r, s: s}
	}

	return chans, nil
}

func (c *inProcess) Rank() int   { return c.rank }
func (c *inProcess) NRanks() int { return c.s.nRanks }

// SessionID identifies the in-memory session, mostly for log correlation.
func (c *inProcess) SessionID() string { return c.s.id }

func (c *inProcess) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	s := c.s

	s.mu.Lock()
	gen := s.gens[c.rank]
	s.gens[c.rank] = gen + 1

	r, ok := s.gathers[gen]
	if !ok {
		r = &round{slots: make([][]byte, s.nRanks), left: s.nRanks, done: make(chan struct{})}
		s.gathers[gen] = r
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	r.slots[c.rank] = buf
	r.left--
	if r.left == 0 {
		close(r.done)
		delete(s.gathers, gen)
	}
	s.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("bootstrap allgather interrupted: %w", ctx.Err())
	}

	for i, b := range r.slots {
		if len(b) != len(payload) {
			return nil, fmt.Errorf("bootstrap allgather: rank %d contributed %d bytes, want %d", i, len(b), len(payload))
		}
	}

	return r.slots, nil
}

func (c *inProcess) Barrier(ctx context.Context, tag int) error {
	s := c.s

	s.mu.Lock()
	r, ok := s.barriers[tag]
	if !ok {
		r = &round{left: s.nRanks, done: make(chan struct{})}
		s.barriers[tag] = r
	}
	r.left--
	if r.left == 0 {
		close(r.done)
		delete(s.barriers, tag)
	}
	s.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bootstrap barrier %d interrupted: %w", tag, ctx.Err())
	}
}
