package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

const DefaultBatchSize = 1000

type refTable struct {
	name    string
	key     string
	columns []string
	values  func(records.Reference) []any
}

var refTables = map[records.Kind]refTable{
	records.KindAgent: {
		name:    "agents",
		key:     "agent_name",
		columns: []string{"agent_name", "agency_id"},
		values: func(r records.Reference) []any {
			a := r.(records.Agent)
			return []any{a.NaturalKey(), strings.TrimSpace(a.AgencyID)}
		},
	},
	records.KindAccount: {
		name:    "accounts",
		key:     "account_name",
		columns: []string{"account_name", "account_type"},
		values: func(r records.Reference) []any {
			a := r.(records.Account)
			return []any{a.NaturalKey(), strings.TrimSpace(a.Type)}
		},
	},
	records.KindLOB: {
		name:    "lobs",
		key:     "category_name",
		columns: []string{"category_name"},
		values: func(r records.Reference) []any {
			return []any{r.NaturalKey()}
		},
	},
	records.KindCarrier: {
		name:    "carriers",
		key:     "company_name",
		columns: []string{"company_name"},
		values: func(r records.Reference) []any {
			return []any{r.NaturalKey()}
		},
	},
}

func (t refTable) upsertSQL() string {
	return insertSQL(t.name, t.columns) + " ON CONFLICT (" + t.key + ") DO NOTHING"
}

var subjectColumns = []string{
	"firstname", "dob", "address", "phone", "state", "zip", "email", "gender", "city", "subject_type",
}

var policyColumns = []string{
	"policy_number", "policy_start_date", "policy_end_date", "policy_mode", "policy_type",
	"premium_amount", "premium_amount_written", "producer", "csr", "has_active_client_policy",
	"subject_id", "agent_id", "account_id", "lob_id", "carrier_id",
}

func subjectValues(s records.Subject) []any {
	return []any{s.FirstName, s.DOB, s.Address, s.Phone, s.State, s.Zip, s.Email, s.Gender, s.City, s.SubjectType}
}

func policyValues(p records.Policy) []any {
	return []any{
		p.Number, p.StartDate, p.EndDate, int32(p.Mode), p.Type,
		pgNumeric(p.Premium), pgNumeric(p.PremiumWritten), p.Producer, p.CSR, p.Active,
		int64(p.SubjectID), nullableID(p.AgentID), nullableID(p.AccountID), nullableID(p.LOBID), nullableID(p.CarrierID),
	}
}

// PgStore implements records.Store on PostgreSQL.
type PgStore struct {
	pool      *pgxpool.Pool
	batchSize int
}

func NewPgStore(pool *pgxpool.Pool, batchSize int) *PgStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PgStore{pool: pool, batchSize: batchSize}
}

func (s *PgStore) Ping(ctx context.Context) error {
	return classify("ping", s.pool.Ping(ctx))
}

// UpsertIfAbsent runs one INSERT ... ON CONFLICT DO NOTHING per reference in a
// single batch. The unique index on the natural key keeps concurrent runs from
// creating duplicates.
func (s *PgStore) UpsertIfAbsent(ctx context.Context, kind records.Kind, refs []records.Reference) (int, error) {
	table, ok := refTables[kind]
	if !ok {
		return 0, fmt.Errorf("upsert: unknown reference kind %q", kind)
	}
	if len(refs) == 0 {
		return 0, nil
	}
	op := "upsert " + table.name

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classify(op, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	query := table.upsertSQL()
	batch := &pgx.Batch{}
	for _, ref := range refs {
		batch.Queue(query, table.values(ref)...)
	}
	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range refs {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, classify(op, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(op, err)
	}
	committed = true
	return inserted, nil
}

func (s *PgStore) FindReferences(ctx context.Context, kind records.Kind) ([]records.StoredReference, error) {
	table, ok := refTables[kind]
	if !ok {
		return nil, fmt.Errorf("find: unknown reference kind %q", kind)
	}
	op := "find " + table.name
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT id, %s, created_at FROM %s ORDER BY id", table.key, table.name))
	if err != nil {
		return nil, classify(op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.StoredReference, error) {
		var (
			id        int64
			key       string
			createdAt time.Time
		)
		if err := row.Scan(&id, &key, &createdAt); err != nil {
			return records.StoredReference{}, err
		}
		return records.StoredReference{ID: records.ID(id), Kind: kind, Key: key, CreatedAt: createdAt}, nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *PgStore) InsertSubjects(ctx context.Context, subjects []records.Subject) (records.BatchResult[records.Subject], error) {
	return insertUnordered(ctx, s, "subjects", subjectColumns, subjects, subjectValues)
}

func (s *PgStore) FindSubjects(ctx context.Context) ([]records.StoredSubject, error) {
	const op = "find subjects"
	rows, err := s.pool.Query(ctx, "SELECT id, firstname, email, phone, created_at FROM subjects ORDER BY id")
	if err != nil {
		return nil, classify(op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (records.StoredSubject, error) {
		var (
			id        int64
			key       records.SubjectKey
			createdAt time.Time
		)
		if err := row.Scan(&id, &key.FirstName, &key.Email, &key.Phone, &createdAt); err != nil {
			return records.StoredSubject{}, err
		}
		return records.StoredSubject{ID: records.ID(id), Key: key, CreatedAt: createdAt}, nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *PgStore) InsertPolicies(ctx context.Context, policies []records.Policy) (records.BatchResult[records.Policy], error) {
	return insertUnordered(ctx, s, "policies", policyColumns, policies, policyValues)
}

// insertUnordered writes items in chunks. Each chunk is copied in one
// transaction; when the copy is rejected the chunk is replayed row by row so
// that only the offending rows fail. Connectivity failures stop the insert.
func insertUnordered[T any](
	ctx context.Context,
	s *PgStore,
	table string,
	columns []string,
	items []T,
	values func(T) []any,
) (records.BatchResult[T], error) {
	var result records.BatchResult[T]
	op := "insert " + table

	for start := 0; start < len(items); start += s.batchSize {
		end := min(start+s.batchSize, len(items))
		chunk := items[start:end]

		n, err := s.copyChunk(ctx, table, columns, len(chunk), func(i int) []any { return values(chunk[i]) })
		if err == nil {
			result.Succeeded += n
			continue
		}
		if isConnectivity(err) {
			return result, classify(op, err)
		}

		replayed, err := replayRows(ctx, s, table, columns, chunk, values)
		result.Merge(replayed)
		if err != nil {
			return result, classify(op, err)
		}
	}
	return result, nil
}

// replayRows inserts each row in its own statement. A pgx.Batch would run
// the rows in one implicit transaction, so a single bad row would abort the
// rest of the chunk.
func replayRows[T any](
	ctx context.Context,
	s *PgStore,
	table string,
	columns []string,
	chunk []T,
	values func(T) []any,
) (records.BatchResult[T], error) {
	var result records.BatchResult[T]
	query := insertSQL(table, columns)
	for _, item := range chunk {
		if _, err := s.pool.Exec(ctx, query, values(item)...); err != nil {
			if isConnectivity(err) {
				return result, err
			}
			result.Fail(item, err)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

func (s *PgStore) copyChunk(ctx context.Context, table string, columns []string, n int, row func(int) []any) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromSlice(n, func(i int) ([]any, error) {
		return row(i), nil
	}))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	committed = true
	return int(copied), nil
}

func insertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

var _ records.Store = (*PgStore)(nil)
