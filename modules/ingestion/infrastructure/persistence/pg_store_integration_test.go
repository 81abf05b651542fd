package persistence_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
	"github.com/iota-uz/policyhub/modules/ingestion/infrastructure/persistence"
	"github.com/iota-uz/policyhub/pkg/application"
	"github.com/iota-uz/policyhub/pkg/composables"
	"github.com/iota-uz/policyhub/pkg/configuration"
)

func TestPgStore_UpsertIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := newIngestTestDB(t, ctx)
	store := persistence.NewPgStore(pool, 2)

	refs := []records.Reference{
		records.Agent{Name: "Bob", AgencyID: "1"},
		records.Agent{Name: "Eve", AgencyID: "2"},
		records.Agent{Name: "Bob", AgencyID: "3"},
	}
	inserted, err := store.UpsertIfAbsent(ctx, records.KindAgent, refs)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	inserted, err = store.UpsertIfAbsent(ctx, records.KindAgent, refs[:2])
	require.NoError(t, err)
	require.Equal(t, 0, inserted)

	stored, err := store.FindReferences(ctx, records.KindAgent)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "Bob", stored[0].Key)
	require.Equal(t, "Eve", stored[1].Key)

	var agencyID string
	require.NoError(t, pool.QueryRow(ctx, "SELECT agency_id FROM agents WHERE agent_name = 'Bob'").Scan(&agencyID))
	require.Equal(t, "1", agencyID)
}

func TestPgStore_InsertPoliciesIsolatesBadRow(t *testing.T) {
	cases := []struct {
		name string
		bad  func(p records.Policy) records.Policy
	}{
		{
			name: "blank policy number",
			bad: func(p records.Policy) records.Policy {
				p.Number = "   "
				return p
			},
		},
		{
			name: "premium overflow",
			bad: func(p records.Policy) records.Policy {
				p.Premium = decimal.New(1, 15)
				return p
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			pool := newIngestTestDB(t, ctx)
			store := persistence.NewPgStore(pool, 2)

			subjectID := insertSubject(t, ctx, store, records.Subject{FirstName: "Ann", Email: "ann@example.com"})

			policies := []records.Policy{
				testPolicy("P-1", subjectID),
				testPolicy("P-2", subjectID),
				testPolicy("P-3", subjectID),
				tc.bad(testPolicy("P-4", subjectID)),
				testPolicy("P-5", subjectID),
			}
			res, err := store.InsertPolicies(ctx, policies)
			require.NoError(t, err)
			require.Equal(t, len(policies)-1, res.Succeeded)
			require.Len(t, res.Failed, 1)
			require.Equal(t, policies[3].Number, res.Failed[0].Record.Number)
			require.Error(t, res.Failed[0].Reason)

			var count int
			require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM policies").Scan(&count))
			require.Equal(t, len(policies)-1, count)
		})
	}
}

func TestPolicyQueryRepository_SearchListAndAggregate(t *testing.T) {
	ctx := context.Background()
	pool := newIngestTestDB(t, ctx)
	store := persistence.NewPgStore(pool, 2)

	_, err := store.UpsertIfAbsent(ctx, records.KindCarrier, []records.Reference{records.Carrier{CompanyName: "InsCo"}})
	require.NoError(t, err)
	carriers, err := store.FindReferences(ctx, records.KindCarrier)
	require.NoError(t, err)
	require.Len(t, carriers, 1)
	carrierID := carriers[0].ID

	res, err := store.InsertSubjects(ctx, []records.Subject{
		{FirstName: "Ann", Email: "ann@example.com", Phone: "1"},
		{FirstName: "Bob", Email: "bob@example.com", Phone: "2"},
		{FirstName: "100%_Joe", Email: "joe@example.com", Phone: "3"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Succeeded)
	subjects, err := store.FindSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 3)
	ann, bob, joe := subjects[0].ID, subjects[1].ID, subjects[2].ID

	p1 := testPolicy("P-1", ann)
	p1.CarrierID = &carrierID
	p1.Premium = decimal.RequireFromString("100.50")
	p2 := testPolicy("P-2", ann)
	p2.Premium = decimal.RequireFromString("20.25")
	p3 := testPolicy("P-3", bob)
	p3.Premium = decimal.RequireFromString("7")
	p4 := testPolicy("P-4", joe)

	pres, err := store.InsertPolicies(ctx, []records.Policy{p1, p2, p3, p4})
	require.NoError(t, err)
	require.Equal(t, 4, pres.Succeeded)
	require.Empty(t, pres.Failed)

	repo := persistence.NewPolicyQueryRepository()
	qctx := composables.WithPool(ctx, pool)

	t.Run("search", func(t *testing.T) {
		views, err := repo.SearchBySubjectName(qctx, " an ", 10)
		require.NoError(t, err)
		require.Len(t, views, 2)
		require.Equal(t, "P-1", views[0].Number)
		require.Equal(t, "InsCo", views[0].CompanyName)
		require.True(t, decimal.RequireFromString("100.50").Equal(views[0].Premium))
		require.Equal(t, "Ann", views[0].Subject.FirstName)
		require.Equal(t, "P-2", views[1].Number)
		require.Empty(t, views[1].CompanyName)

		views, err = repo.SearchBySubjectName(qctx, "%_", 10)
		require.NoError(t, err)
		require.Len(t, views, 1)
		require.Equal(t, "P-4", views[0].Number)

		views, err = repo.SearchBySubjectName(qctx, "nobody", 10)
		require.NoError(t, err)
		require.Empty(t, views)
	})

	t.Run("list", func(t *testing.T) {
		views, err := repo.ListPolicies(qctx, 3)
		require.NoError(t, err)
		require.Len(t, views, 3)
		require.Equal(t, "P-1", views[0].Number)
		require.Equal(t, "P-3", views[2].Number)
	})

	t.Run("aggregate", func(t *testing.T) {
		groups, err := repo.AggregateBySubject(qctx)
		require.NoError(t, err)
		require.Len(t, groups, 3)
		require.Equal(t, ann, groups[0].Subject.ID)
		require.Equal(t, 2, groups[0].TotalPolicies)
		require.True(t, decimal.RequireFromString("120.75").Equal(groups[0].TotalPremium))
		require.Len(t, groups[0].Policies, 2)
		require.Equal(t, "P-1", groups[0].Policies[0].Number)
		require.Equal(t, bob, groups[1].Subject.ID)
		require.Equal(t, 1, groups[1].TotalPolicies)
	})
}

func testPolicy(number string, subjectID records.ID) records.Policy {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return records.Policy{
		Number:    number,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, 0),
		Type:      "New",
		Premium:   decimal.NewFromInt(1),
		SubjectID: subjectID,
	}
}

func insertSubject(tb testing.TB, ctx context.Context, store *persistence.PgStore, s records.Subject) records.ID {
	tb.Helper()
	res, err := store.InsertSubjects(ctx, []records.Subject{s})
	require.NoError(tb, err)
	require.Equal(tb, 1, res.Succeeded)
	stored, err := store.FindSubjects(ctx)
	require.NoError(tb, err)
	require.NotEmpty(tb, stored)
	return stored[len(stored)-1].ID
}

// newIngestTestDB creates a fresh database for the test and applies the
// ingestion schema. INGEST_TEST_DSN overrides the DB_* settings for the
// admin connection.
func newIngestTestDB(tb testing.TB, ctx context.Context) *pgxpool.Pool {
	tb.Helper()
	isCI := strings.TrimSpace(os.Getenv("CI")) != "" || strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true")

	adminDSN := strings.TrimSpace(os.Getenv("INGEST_TEST_DSN"))
	if adminDSN == "" {
		conf := configuration.Use()
		adminDSN = "postgres://" + conf.Database.User + ":" + conf.Database.Password +
			"@" + conf.Database.Host + ":" + conf.Database.Port + "/postgres?sslmode=disable"
	}
	adminConn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("postgres is not reachable; skipping integration test")
	}
	tb.Cleanup(func() { _ = adminConn.Close(ctx) })

	dbName := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, "ingest_"+strings.ToLower(tb.Name()))
	if len(dbName) > 63 {
		dbName = dbName[:63]
	}

	_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	_, err = adminConn.Exec(ctx, "CREATE DATABASE "+dbName)
	require.NoError(tb, err)

	cfg, err := pgxpool.ParseConfig(adminDSN)
	require.NoError(tb, err)
	cfg.ConnConfig.Database = dbName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		pool.Close()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	})

	logger := logrus.New()
	logger.SetOutput(testWriter{tb})
	migrations := application.NewMigrationManager(pool, logger)
	migrations.RegisterSchema("ingestion", persistence.Schema())
	require.NoError(tb, migrations.Run(ctx))
	return pool
}

type testWriter struct{ tb testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}
