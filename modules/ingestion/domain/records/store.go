package records

import (
	"context"
	"errors"
)

// ErrUnavailable marks connectivity-class storage failures. Those are the only
// failures that abort an ingestion run.
var ErrUnavailable = errors.New("storage unavailable")

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Store is the persistence collaborator of the ingestion pipeline.
//
// UpsertIfAbsent inserts every reference whose natural key is not yet stored
// and leaves existing ones untouched; it must stay correct under concurrent
// writers. Find* return records in ascending ID order. Insert* are unordered:
// one failing record never prevents the others from being written, and the
// returned error is reserved for failures that affect the whole call.
type Store interface {
	Ping(ctx context.Context) error
	UpsertIfAbsent(ctx context.Context, kind Kind, refs []Reference) (int, error)
	FindReferences(ctx context.Context, kind Kind) ([]StoredReference, error)
	InsertSubjects(ctx context.Context, subjects []Subject) (BatchResult[Subject], error)
	FindSubjects(ctx context.Context) ([]StoredSubject, error)
	InsertPolicies(ctx context.Context, policies []Policy) (BatchResult[Policy], error)
}
