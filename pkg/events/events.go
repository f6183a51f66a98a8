// Package events carries the lifecycle notifications the engine emits after
// each committed state change.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Stable event names. Indexers match on these strings.
const (
	Initialized              = "initialized"
	RoleAssigned             = "role_assigned"
	SignerAdded              = "signer_added"
	SignerRemoved            = "signer_removed"
	ThresholdChanged         = "threshold_changed"
	ConfigUpdated            = "config_updated"
	NotificationPrefsUpdated = "notification_prefs_updated"
	ProposalCreated          = "proposal_created"
	ProposalApproved         = "proposal_approved"
	ProposalReady            = "proposal_ready"
	ProposalAbstained        = "proposal_abstained"
	ProposalExecuted         = "proposal_executed"
	ProposalRejected         = "proposal_rejected"
	ProposalExpired          = "proposal_expired"
	InsuranceSlashed         = "insurance_slashed"
	RecurringCreated         = "recurring_created"
	RecurringExecuted        = "recurring_executed"
	RecurringStopped         = "recurring_stopped"
	CrossChainProposed       = "crosschain_proposed"
	CrossChainApproved       = "crosschain_approved"
	CrossChainReady          = "crosschain_ready"
	CrossChainExecuted       = "crosschain_executed"
	CrossChainConfirmed      = "crosschain_confirmed"
	CrossChainExpired        = "crosschain_expired"
)

// Event is one emitted notification.
type Event struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	SubjectID   uint64         `json:"subject_id,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Sequence    uint64         `json:"sequence"`
	Timestamp   uint64         `json:"timestamp"`
	ContentHash string         `json:"content_hash"`
}

// New builds an event with a fresh id. SubjectID is the proposal, payment or
// asset id the event concerns; zero when none applies.
func New(name string, subjectID uint64, actor string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		SubjectID: subjectID,
		Actor:     actor,
		Data:      data,
	}
}

// Seal stamps the clock position and computes the content hash over the
// canonical JSON of everything except id and hash.
func (e *Event) Seal(seq, ts uint64) error {
	e.Sequence = seq
	e.Timestamp = ts
	h, err := e.hash()
	if err != nil {
		return err
	}
	e.ContentHash = h
	return nil
}

// Verify recomputes the content hash.
func (e Event) Verify() bool {
	h, err := e.hash()
	return err == nil && h == e.ContentHash
}

func (e Event) hash() (string, error) {
	body := struct {
		Name      string         `json:"name"`
		SubjectID uint64         `json:"subject_id"`
		Actor     string         `json:"actor"`
		Data      map[string]any `json:"data"`
		Sequence  uint64         `json:"sequence"`
		Timestamp uint64         `json:"timestamp"`
	}{e.Name, e.SubjectID, e.Actor, e.Data, e.Sequence, e.Timestamp}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", e.Name, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event %s: %w", e.Name, err)
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Sink receives events after the state change they describe is committed.
type Sink interface {
	Emit(ctx context.Context, evts []Event) error
}

// MemorySink records events in order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Emit(_ context.Context, evts []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evts...)
	return nil
}

// Events returns a copy of everything emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Names lists the emitted event names in order.
func (m *MemorySink) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Name
	}
	return out
}

// Reset forgets recorded events.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (l *LogSink) Emit(ctx context.Context, evts []Event) error {
	for _, e := range evts {
		l.logger.InfoContext(ctx, e.Name,
			"event_id", e.ID,
			"subject_id", e.SubjectID,
			"actor", e.Actor,
			"sequence", e.Sequence,
			"content_hash", e.ContentHash,
		)
	}
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, evts []Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(ctx, evts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
