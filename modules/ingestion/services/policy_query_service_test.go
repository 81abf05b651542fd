package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

type recordingQueries struct {
	name  string
	limit int
}

func (r *recordingQueries) SearchBySubjectName(_ context.Context, name string, limit int) ([]records.PolicyView, error) {
	r.name, r.limit = name, limit
	return nil, nil
}

func (r *recordingQueries) ListPolicies(_ context.Context, limit int) ([]records.PolicyView, error) {
	r.limit = limit
	return nil, nil
}

func (r *recordingQueries) AggregateBySubject(context.Context) ([]records.SubjectPolicies, error) {
	return []records.SubjectPolicies{{TotalPolicies: 1}}, nil
}

func TestPolicyQueryService_Search(t *testing.T) {
	repo := &recordingQueries{}
	svc := NewPolicyQueryService(repo)
	ctx := context.Background()

	_, err := svc.SearchBySubjectName(ctx, "   ", 10)
	require.ErrorIs(t, err, ErrEmptySearch)

	_, err = svc.SearchBySubjectName(ctx, " ann ", 0)
	require.NoError(t, err)
	require.Equal(t, "ann", repo.name)
	require.Equal(t, DefaultSearchLimit, repo.limit)

	_, err = svc.SearchBySubjectName(ctx, "ann", 10_000)
	require.NoError(t, err)
	require.Equal(t, MaxSearchLimit, repo.limit)

	groups, err := svc.AggregateBySubject(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestPolicyQueryService_ListLimits(t *testing.T) {
	repo := &recordingQueries{}
	svc := NewPolicyQueryService(repo)
	ctx := context.Background()

	_, err := svc.ListPolicies(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultListLimit, repo.limit)

	_, err = svc.ListPolicies(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 7, repo.limit)

	_, err = svc.ListPolicies(ctx, 10_000)
	require.NoError(t, err)
	require.Equal(t, MaxSearchLimit, repo.limit)
}
