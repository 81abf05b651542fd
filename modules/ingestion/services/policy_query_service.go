package services

import (
	"context"
	"errors"
	"strings"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

const (
	DefaultSearchLimit = 50
	DefaultListLimit   = 100
	MaxSearchLimit     = 500
)

var ErrEmptySearch = errors.New("search text is required")

type PolicyQueryService struct {
	repo records.PolicyQueries
}

func NewPolicyQueryService(repo records.PolicyQueries) *PolicyQueryService {
	return &PolicyQueryService{repo: repo}
}

// SearchBySubjectName returns policies whose subject first name contains
// name, ignoring case.
func (s *PolicyQueryService) SearchBySubjectName(ctx context.Context, name string, limit int) ([]records.PolicyView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptySearch
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)
	return s.repo.SearchBySubjectName(ctx, name, limit)
}

// ListPolicies returns the oldest policies with the names they reference.
func (s *PolicyQueryService) ListPolicies(ctx context.Context, limit int) ([]records.PolicyView, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.ListPolicies(ctx, min(limit, MaxSearchLimit))
}

// AggregateBySubject groups policies per subject, largest groups first.
func (s *PolicyQueryService) AggregateBySubject(ctx context.Context) ([]records.SubjectPolicies, error) {
	return s.repo.AggregateBySubject(ctx)
}
