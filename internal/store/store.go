// Package store defines the Store contract the core consumes (spec.md §6)
// and a reference SQLite-backed implementation.
package store

import (
	"context"

	"github.com/agenthub/hub/internal/model"
)

// UpdateMetadataOptions carries the fields a metadata update may change.
type UpdateMetadataOptions struct {
	Path        *string
	Flavor      *string
	ResumeToken *string
	Active      *bool
}

// Store is the persistence contract consumed by the core. All update
// operations return a model.VersionResult per spec.md §6's three-way
// outcome: success, version-mismatch, or error.
type Store interface {
	GetOrCreateSession(ctx context.Context, sessionID, namespace string) (model.Session, error)

	UpdateSessionMetadata(ctx context.Context, sessionID string, expectedVersion int64, opts UpdateMetadataOptions) model.VersionResult
	UpdateSessionAgentState(ctx context.Context, sessionID string, expectedVersion int64, state model.AgentState) model.VersionResult
	SetSessionTodos(ctx context.Context, sessionID string, todos []model.Todo) error

	AddMessage(ctx context.Context, sessionID string, content any, localID string) (model.Message, error)
	GetMessages(ctx context.Context, sessionID string, limit int64, beforeSeq *int64) ([]model.Message, error)

	// MergeSessionMessages reassigns messages from one session into another,
	// offsetting Seq to maintain density and clearing the localId of every
	// merged message, so none can collide in the destination.
	MergeSessionMessages(ctx context.Context, fromSessionID, toSessionID string) error
}

// MaxMessagesLimit is the hard cap on GetMessages' limit parameter (spec.md §6).
const MaxMessagesLimit = 200
