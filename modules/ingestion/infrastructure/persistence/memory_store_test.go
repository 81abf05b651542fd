package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

func TestMemoryStore_UpsertIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	refs := []records.Reference{
		records.Agent{Name: "Bob", AgencyID: "1"},
		records.Agent{Name: "Eve", AgencyID: "2"},
	}
	n, err := store.UpsertIfAbsent(ctx, records.KindAgent, refs)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = store.UpsertIfAbsent(ctx, records.KindAgent, append(refs, records.Agent{Name: "Bob", AgencyID: "other"}))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	stored, err := store.FindReferences(ctx, records.KindAgent)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "Bob", stored[0].Key)
	require.Less(t, stored[0].ID, stored[1].ID)
}

func TestMemoryStore_RejectsMismatchedKind(t *testing.T) {
	_, err := NewMemoryStore().UpsertIfAbsent(context.Background(), records.KindCarrier, []records.Reference{records.Agent{Name: "Bob"}})
	require.Error(t, err)
	require.False(t, records.IsUnavailable(err))
}

func TestMemoryStore_InsertPoliciesContinuesOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.InsertSubjects(ctx, []records.Subject{
		{FirstName: "Ann", Email: "a@x.com", Phone: "555"},
		{FirstName: " "},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failed, 1)
	require.ErrorIs(t, res.Failed[0].Reason, ErrBlankFirstName)

	subjects, err := store.FindSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 1)

	missing := records.ID(999)
	policies := []records.Policy{
		{Number: "P1", SubjectID: subjects[0].ID},
		{Number: "P2", SubjectID: 12345},
		{Number: "", SubjectID: subjects[0].ID},
		{Number: "P4", SubjectID: subjects[0].ID, CarrierID: &missing},
		{Number: "P5", SubjectID: subjects[0].ID},
	}
	out, err := store.InsertPolicies(ctx, policies)
	require.NoError(t, err)
	require.Equal(t, 2, out.Succeeded)
	require.Len(t, out.Failed, 3)
	require.ErrorIs(t, out.Failed[0].Reason, ErrUnknownSubject)
	require.ErrorIs(t, out.Failed[1].Reason, ErrBlankPolicyNumber)
	require.ErrorIs(t, out.Failed[2].Reason, ErrUnknownReference)
	require.Equal(t, "P4", out.Failed[2].Record.Number)
}

func TestMemoryStore_CanceledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().FindSubjects(ctx)
	require.Error(t, err)
	require.True(t, records.IsUnavailable(err))
}

func seedQueries(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.UpsertIfAbsent(ctx, records.KindAgent, []records.Reference{records.Agent{Name: "Bob"}})
	require.NoError(t, err)
	_, err = store.UpsertIfAbsent(ctx, records.KindCarrier, []records.Reference{records.Carrier{CompanyName: "InsCo"}})
	require.NoError(t, err)
	_, err = store.InsertSubjects(ctx, []records.Subject{
		{FirstName: "Ann", Email: "a@x.com", Phone: "555"},
		{FirstName: "Joanna", Email: "j@x.com", Phone: "556"},
		{FirstName: "Zed", Email: "z@x.com", Phone: "557"},
	})
	require.NoError(t, err)

	agents, err := store.FindReferences(ctx, records.KindAgent)
	require.NoError(t, err)
	subjects, err := store.FindSubjects(ctx)
	require.NoError(t, err)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.InsertPolicies(ctx, []records.Policy{
		{Number: "P1", SubjectID: subjects[0].ID, AgentID: &agents[0].ID, Premium: decimal.NewFromInt(100), StartDate: start},
		{Number: "P2", SubjectID: subjects[0].ID, Premium: decimal.NewFromInt(200), StartDate: start},
		{Number: "P3", SubjectID: subjects[1].ID, Premium: decimal.RequireFromString("10.5"), StartDate: start},
		{Number: "P4", SubjectID: subjects[2].ID, Premium: decimal.NewFromInt(1)},
		{Number: "P5", SubjectID: subjects[2].ID, Premium: decimal.NewFromInt(2)},
	})
	require.NoError(t, err)
	return store
}

func TestMemoryStore_SearchBySubjectName(t *testing.T) {
	store := seedQueries(t)

	views, err := store.SearchBySubjectName(context.Background(), "AN", 0)
	require.NoError(t, err)
	require.Len(t, views, 3)
	require.Equal(t, "P1", views[0].Number)
	require.Equal(t, "Bob", views[0].AgentName)
	require.Empty(t, views[1].AgentName)
	require.Equal(t, "Joanna", views[2].Subject.FirstName)

	limited, err := store.SearchBySubjectName(context.Background(), "an", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestMemoryStore_AggregateBySubject(t *testing.T) {
	store := seedQueries(t)

	groups, err := store.AggregateBySubject(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 3)

	require.Equal(t, "Ann", groups[0].Subject.FirstName)
	require.Equal(t, 2, groups[0].TotalPolicies)
	require.True(t, decimal.NewFromInt(300).Equal(groups[0].TotalPremium))
	require.Len(t, groups[0].Policies, 2)

	require.Equal(t, "Zed", groups[1].Subject.FirstName)
	require.Equal(t, "Joanna", groups[2].Subject.FirstName)
	require.True(t, decimal.RequireFromString("10.5").Equal(groups[2].TotalPremium))
}

func TestMemoryStore_ListPolicies(t *testing.T) {
	store := seedQueries(t)

	views, err := store.ListPolicies(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, views, 5)
	require.Equal(t, "P1", views[0].Number)
	require.Equal(t, "Bob", views[0].AgentName)
	require.Equal(t, "Ann", views[0].Subject.FirstName)
	require.Equal(t, "Zed", views[4].Subject.FirstName)

	limited, err := store.ListPolicies(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "P2", limited[1].Number)
}
