// Copyright 2026 The Aether Frame Authors
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

// Package stream implements live task sessions: an ordered chunk stream
// from producer to consumer plus a back-channel for tool approvals and
// mid-stream user messages.
//
// NewSession returns both halves. The consumer ranges over
// Session.Chunks and answers approval requests through the Communicator;
// the producer emits chunks and blocks in RequestApproval until the
// consumer answers or the timeout policy applies.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aetherframe/aether/pkg/contracts"
)

// TimeoutPolicy governs what happens when a human-in-the-loop approval
// request times out.
type TimeoutPolicy string

const (
	// PolicyAutoApprove approves the pending tool call.
	PolicyAutoApprove TimeoutPolicy = "auto_approve"

	// PolicyAutoCancel cancels the pending tool call with a cancelled
	// chunk; the conversation may continue. This is the default.
	PolicyAutoCancel TimeoutPolicy = "auto_cancel"

	// PolicyError surfaces the timeout as an error to the producer.
	PolicyError TimeoutPolicy = "error"
)

// DefaultApprovalTimeout bounds HITL approval waits unless overridden.
const DefaultApprovalTimeout = 60 * time.Second

var (
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("stream session closed")

	// ErrApprovalTimeout is returned by RequestApproval when the wait
	// expires under the auto_cancel or error policy.
	ErrApprovalTimeout = errors.New("approval request timed out")

	// ErrInteractionNotFound is returned by SendUserResponse when no
	// pending interaction matches, including interactions already
	// resolved by a timeout policy.
	ErrInteractionNotFound = errors.New("no pending interaction for response")
)

// Options configures a live session.
type Options struct {
	// ApprovalTimeout bounds each HITL wait. Default 60s.
	ApprovalTimeout time.Duration

	// TimeoutPolicy applies when an approval wait expires. Default
	// auto_cancel.
	TimeoutPolicy TimeoutPolicy

	// Buffer is the chunk channel capacity. Default 32.
	Buffer int
}

func (o Options) withDefaults() Options {
	if o.ApprovalTimeout <= 0 {
		o.ApprovalTimeout = DefaultApprovalTimeout
	}
	if o.TimeoutPolicy == "" {
		o.TimeoutPolicy = PolicyAutoCancel
	}
	if o.Buffer <= 0 {
		o.Buffer = 32
	}
	return o
}

// Communicator is the consumer's back-channel into a live session.
type Communicator interface {
	// SendUserMessage injects a user message mid-stream; the producer
	// folds it into the conversation before its next turn.
	SendUserMessage(text string) error

	// SendUserResponse answers an outstanding interaction request.
	// Returns ErrInteractionNotFound when no request is pending under
	// the response's interaction id, including requests already resolved
	// by a timeout policy.
	SendUserResponse(resp *contracts.InteractionResponse) error

	// Close cancels outstanding interactions and stops the producer.
	// Idempotent.
	Close() error
}

// Session is the consumer half of a live task stream.
type Session struct {
	taskID string
	opts   Options

	chunks   chan *contracts.TaskStreamChunk
	userMsgs chan string
	done     chan struct{}

	seq atomic.Int64

	mu      sync.Mutex
	pending map[string]chan *contracts.InteractionResponse
	closed  bool

	closeOnce sync.Once
	sendOnce  sync.Once
	finalSent atomic.Bool
}

// NewSession creates a live session for one task and returns the
// consumer and producer halves.
func NewSession(taskID string, opts Options) (*Session, *Producer) {
	opts = opts.withDefaults()
	s := &Session{
		taskID:   taskID,
		opts:     opts,
		chunks:   make(chan *contracts.TaskStreamChunk, opts.Buffer),
		userMsgs: make(chan string, 16),
		done:     make(chan struct{}),
		pending:  make(map[string]chan *contracts.InteractionResponse),
	}
	return s, &Producer{s: s}
}

// TaskID returns the task this session streams for.
func (s *Session) TaskID() string { return s.taskID }

// Chunks is the ordered stream of chunks. It is closed by the producer
// after the final chunk.
func (s *Session) Chunks() <-chan *contracts.TaskStreamChunk { return s.chunks }

// Communicator returns the session's back-channel.
func (s *Session) Communicator() Communicator { return s }

// ApproveTool answers a pending tool approval request.
func (s *Session) ApproveTool(interactionID string, approved bool, userMessage string) error {
	return s.SendUserResponse(&contracts.InteractionResponse{
		InteractionID: interactionID,
		Approved:      approved,
		UserMessage:   userMessage,
	})
}

// SendUserResponse delivers an interaction response to the producer.
func (s *Session) SendUserResponse(resp *contracts.InteractionResponse) error {
	if resp == nil || resp.InteractionID == "" {
		return errors.New("interaction response requires an interaction_id")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ch, ok := s.pending[resp.InteractionID]
	if ok {
		delete(s.pending, resp.InteractionID)
	}
	s.mu.Unlock()

	if !ok {
		slog.Warn("Rejecting unmatched interaction response",
			"task_id", s.taskID,
			"interaction_id", resp.InteractionID)
		return ErrInteractionNotFound
	}

	ch <- resp
	return nil
}

// takePending removes a pending interaction, reporting whether this
// caller claimed it. A false return means a racing SendUserResponse
// (or Close) already took the entry.
func (s *Session) takePending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

// SendUserMessage injects a user message mid-stream.
func (s *Session) SendUserMessage(text string) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.userMsgs <- text:
		return nil
	default:
		return errors.New("user message buffer full")
	}
}

// Close cancels outstanding interactions and signals the producer to
// stop. Idempotent; the producer closes the chunk channel on its way
// out.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pending := s.pending
		s.pending = make(map[string]chan *contracts.InteractionResponse)
		s.mu.Unlock()

		close(s.done)
		for id, ch := range pending {
			slog.Debug("Cancelling pending interaction", "task_id", s.taskID, "interaction_id", id)
			close(ch)
		}
	})
	return nil
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Producer is the adapter-side half of a live session. A Producer is
// driven by a single goroutine, which must exit through Complete, Fail,
// or Cancel so the chunk channel is closed for the consumer.
type Producer struct {
	s *Session
}

// Emit stamps the chunk with the task id, the next sequence id, and the
// chunk version, then delivers it. Emitting after the final chunk or
// after close returns ErrSessionClosed.
func (p *Producer) Emit(chunk *contracts.TaskStreamChunk) error {
	s := p.s
	if s.finalSent.Load() {
		return ErrSessionClosed
	}
	chunk.TaskID = s.taskID
	chunk.SequenceID = s.seq.Add(1)
	chunk.ChunkVersion = contracts.ChunkVersion

	if chunk.IsFinal && !s.finalSent.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	case s.chunks <- chunk:
		return nil
	}
}

// UserMessages exposes user messages injected by the consumer.
func (p *Producer) UserMessages() <-chan string { return p.s.userMsgs }

// Done is closed when the consumer closes the session.
func (p *Producer) Done() <-chan struct{} { return p.s.done }

// RequestApproval emits a tool approval request and blocks until the
// consumer answers, the session closes, or the timeout policy applies.
// Under auto_cancel a cancelled chunk is emitted for the pending tool
// and ErrApprovalTimeout is returned; under auto_approve a synthetic
// approval is returned.
func (p *Producer) RequestApproval(ctx context.Context, content map[string]any) (*contracts.InteractionResponse, error) {
	s := p.s

	id := uuid.NewString()
	ch := make(chan *contracts.InteractionResponse, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	err := p.Emit(&contracts.TaskStreamChunk{
		ChunkType:     contracts.ChunkToolApprovalRequest,
		ChunkKind:     contracts.KindToolProposal,
		InteractionID: id,
		Content:       content,
	})
	if err != nil {
		s.takePending(id)
		return nil, err
	}

	timer := time.NewTimer(s.opts.ApprovalTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		return resp, nil
	case <-ctx.Done():
		if resp, ok := p.takeOrDrain(id, ch); ok {
			return resp, nil
		}
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	case <-timer.C:
		if resp, ok := p.takeOrDrain(id, ch); ok {
			return resp, nil
		}
		return p.applyTimeoutPolicy(id, content)
	}
}

// takeOrDrain resolves the race between a timeout (or cancellation) and
// an in-flight SendUserResponse: it claims the pending entry, and when a
// responder claimed it first, the delivered response wins over the
// timeout.
func (p *Producer) takeOrDrain(id string, ch chan *contracts.InteractionResponse) (*contracts.InteractionResponse, bool) {
	if p.s.takePending(id) {
		return nil, false
	}
	resp, ok := <-ch
	return resp, ok
}

func (p *Producer) applyTimeoutPolicy(interactionID string, content map[string]any) (*contracts.InteractionResponse, error) {
	s := p.s
	switch s.opts.TimeoutPolicy {
	case PolicyAutoApprove:
		slog.Info("Approval timed out, auto-approving",
			"task_id", s.taskID, "interaction_id", interactionID)
		return &contracts.InteractionResponse{
			InteractionID: interactionID,
			Approved:      true,
			ResponseData:  map[string]any{"auto_approved": true},
		}, nil

	case PolicyError:
		return nil, ErrApprovalTimeout

	default: // PolicyAutoCancel
		slog.Info("Approval timed out, cancelling tool",
			"task_id", s.taskID, "interaction_id", interactionID)
		p.Emit(&contracts.TaskStreamChunk{
			ChunkType:     contracts.ChunkCancelled,
			InteractionID: interactionID,
			Content:       content,
			Metadata:      map[string]any{"reason": "approval_timeout"},
		})
		return nil, ErrApprovalTimeout
	}
}

// Complete emits the terminal complete chunk (unless a final chunk was
// already sent) and closes the chunk channel.
func (p *Producer) Complete(metadata map[string]any) {
	p.Emit(&contracts.TaskStreamChunk{
		ChunkType: contracts.ChunkComplete,
		IsFinal:   true,
		Metadata:  metadata,
	})
	p.closeSend()
}

// Fail emits a terminal error chunk and closes the chunk channel.
func (p *Producer) Fail(err error, stage string) {
	e := contracts.AsError(err, stage)
	p.Emit(&contracts.TaskStreamChunk{
		ChunkType: contracts.ChunkError,
		IsFinal:   true,
		Content:   e.Message,
		Metadata: map[string]any{
			"error_code":  e.Code,
			"error_stage": e.Stage,
		},
	})
	p.closeSend()
}

// Cancel emits a terminal cancelled chunk and closes the chunk channel.
func (p *Producer) Cancel(reason string) {
	p.Emit(&contracts.TaskStreamChunk{
		ChunkType: contracts.ChunkCancelled,
		IsFinal:   true,
		Metadata:  map[string]any{"reason": reason},
	})
	p.closeSend()
}

func (p *Producer) closeSend() {
	p.s.sendOnce.Do(func() {
		close(p.s.chunks)
	})
}
