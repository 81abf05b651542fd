package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
)

var tracer = otel.Tracer("policyhub-ingest")

type PipelineOptions struct {
	// ConnectAttempts bounds the storage pings made while connecting.
	ConnectAttempts   int
	ConnectBackoff    time.Duration
	MaxConnectBackoff time.Duration

	Logger *logrus.Entry
	Now    func() time.Time
}

func (o *PipelineOptions) setDefaults() {
	if o.ConnectAttempts == 0 {
		o.ConnectAttempts = 3
	}
	if o.ConnectBackoff == 0 {
		o.ConnectBackoff = 200 * time.Millisecond
	}
	if o.MaxConnectBackoff == 0 {
		o.MaxConnectBackoff = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Pipeline turns raw rows into persisted references, subjects and policies.
// Stages run strictly in order; only connectivity loss aborts a run.
type Pipeline struct {
	store      records.Store
	normalizer *ingest.Normalizer
	opts       PipelineOptions
}

func NewPipeline(store records.Store, opts PipelineOptions) *Pipeline {
	opts.setDefaults()
	return &Pipeline{
		store:      store,
		normalizer: &ingest.Normalizer{Now: opts.Now},
		opts:       opts,
	}
}

// fatal reports whether err must abort the run.
func fatal(err error) bool {
	return records.IsUnavailable(err)
}

// Run executes one ingestion run and reports through rep. The returned summary
// and error mirror the terminal event.
func (p *Pipeline) Run(ctx context.Context, rep *ingest.Reporter, rows []ingest.Row) (ingest.Summary, error) {
	ctx, span := tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("ingest.run_id", rep.RunID()),
		attribute.Int("ingest.rows", len(rows)),
	))
	defer span.End()

	log := p.opts.Logger.WithField("run_id", rep.RunID())
	started := p.opts.Now()

	summary, err := p.run(ctx, rep, log, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).WithField("stage", rep.Stage()).Error("ingestion run failed")
		rep.Fail(err)
		return ingest.Summary{}, err
	}

	summary.Warnings = rep.Warnings()
	log.WithFields(logrus.Fields{
		"agents":   summary.Agents,
		"accounts": summary.Accounts,
		"lobs":     summary.Lobs,
		"carriers": summary.Carriers,
		"subjects": summary.Subjects,
		"facts":    summary.Facts,
		"warnings": summary.Warnings,
		"duration": p.opts.Now().Sub(started),
	}).Info("ingestion run complete")
	rep.Complete(summary)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, rep *ingest.Reporter, log *logrus.Entry, rows []ingest.Row) (ingest.Summary, error) {
	var summary ingest.Summary

	if err := p.stage(ctx, rep, log, ingest.StageConnecting, func(ctx context.Context) error {
		return p.connect(ctx, log)
	}); err != nil {
		return summary, err
	}

	var (
		normalized []ingest.Normalized
		extraction ingest.Extraction
	)
	if err := p.stage(ctx, rep, log, ingest.StageExtractingEntities, func(context.Context) error {
		normalized = p.normalizer.NormalizeAll(rows)
		extraction = ingest.Deduplicate(normalized)
		return nil
	}); err != nil {
		return summary, err
	}

	for _, kind := range records.Kinds {
		refs := extraction.Refs(kind).Values()
		if err := p.stage(ctx, rep, log, ingest.PersistStage(kind), func(ctx context.Context) error {
			return p.upsert(ctx, rep, log, kind, refs)
		}); err != nil {
			return summary, err
		}
	}

	if err := p.stage(ctx, rep, log, ingest.StagePersistingSubjects, func(ctx context.Context) error {
		res, err := p.insertSubjects(ctx, rep, log, extraction.Subjects)
		summary.Subjects = res.Succeeded
		summary.Rejected.Subjects = len(res.Failed)
		return err
	}); err != nil {
		return summary, err
	}

	var lookup *ingest.Lookup
	if err := p.stage(ctx, rep, log, ingest.StageResolving, func(ctx context.Context) error {
		var err error
		lookup, err = p.resolve(ctx, rep, log)
		return err
	}); err != nil {
		return summary, err
	}
	for _, kind := range records.Kinds {
		summary.SetReferences(kind, lookup.Len(kind))
	}

	if err := p.stage(ctx, rep, log, ingest.StagePersistingFacts, func(ctx context.Context) error {
		assembly := ingest.Assemble(normalized, lookup)
		summary.Rejected.Rows = assembly.Skipped()
		if assembly.Skipped() > 0 {
			log.WithFields(logrus.Fields{
				"missing_policy_number": assembly.MissingNumber,
				"unresolved_subject":    assembly.Unresolved,
			}).Debug("rows dropped from fact assembly")
		}
		res, err := p.insertPolicies(ctx, rep, log, assembly.Policies)
		summary.Facts = res.Succeeded
		summary.Rejected.Facts = len(res.Failed)
		return err
	}); err != nil {
		return summary, err
	}

	return summary, nil
}

// stage reports entry into stage and runs fn inside its span.
func (p *Pipeline) stage(ctx context.Context, rep *ingest.Reporter, log *logrus.Entry, stage ingest.Stage, fn func(context.Context) error) error {
	rep.Enter(stage)
	ctx, span := tracer.Start(ctx, "ingest."+string(stage))
	defer span.End()

	log.WithField("stage", stage).Debug(stage.Message())
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) connect(ctx context.Context, log *logrus.Entry) error {
	var err error
	for attempt := 1; attempt <= p.opts.ConnectAttempts; attempt++ {
		if err = p.store.Ping(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == p.opts.ConnectAttempts {
			break
		}
		wait := backoff(attempt, p.opts.ConnectBackoff, p.opts.MaxConnectBackoff)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": wait}).Warn("storage ping failed")
		if sErr := sleepContext(ctx, wait); sErr != nil {
			break
		}
	}
	return err
}

func (p *Pipeline) upsert(ctx context.Context, rep *ingest.Reporter, log *logrus.Entry, kind records.Kind, refs []records.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	inserted, err := p.store.UpsertIfAbsent(ctx, kind, refs)
	if err != nil {
		if fatal(err) {
			return err
		}
		log.WithError(err).WithField("kind", kind).Warn("reference upsert failed")
		rep.Warn(fmt.Sprintf("Failed to save %s", kind.Plural()), err)
		return nil
	}
	log.WithFields(logrus.Fields{"kind": kind, "unique": len(refs), "inserted": inserted}).Debug("references upserted")
	return nil
}

func (p *Pipeline) insertSubjects(ctx context.Context, rep *ingest.Reporter, log *logrus.Entry, subjects []records.Subject) (records.BatchResult[records.Subject], error) {
	if len(subjects) == 0 {
		return records.BatchResult[records.Subject]{}, nil
	}
	res, err := p.store.InsertSubjects(ctx, subjects)
	if err != nil {
		if fatal(err) {
			return res, err
		}
		log.WithError(err).Warn("subject insert failed")
		rep.Warn("Failed to save subjects", err)
		return res, nil
	}
	if len(res.Failed) > 0 {
		log.WithError(res.Failed[0].Reason).WithField("rejected", len(res.Failed)).Warn("subjects rejected")
		rep.Warn(fmt.Sprintf("%d of %d subjects rejected", len(res.Failed), len(subjects)), res.Failed[0].Reason)
	}
	return res, nil
}

func (p *Pipeline) insertPolicies(ctx context.Context, rep *ingest.Reporter, log *logrus.Entry, policies []records.Policy) (records.BatchResult[records.Policy], error) {
	if len(policies) == 0 {
		return records.BatchResult[records.Policy]{}, nil
	}
	res, err := p.store.InsertPolicies(ctx, policies)
	if err != nil {
		if fatal(err) {
			return res, err
		}
		log.WithError(err).Warn("policy insert failed")
		rep.Warn("Failed to save policies", err)
		return res, nil
	}
	if len(res.Failed) > 0 {
		log.WithError(res.Failed[0].Reason).WithField("rejected", len(res.Failed)).Warn("policies rejected")
		rep.Warn(fmt.Sprintf("%d of %d policies rejected", len(res.Failed), len(policies)), res.Failed[0].Reason)
	}
	return res, nil
}

// resolve re-reads every reference kind and all subjects concurrently. A kind
// that cannot be read resolves to no IDs and its references stay absent; a
// failed subject read aborts the run since no fact could be resolved.
func (p *Pipeline) resolve(ctx context.Context, rep *ingest.Reporter, log *logrus.Entry) (*ingest.Lookup, error) {
	g, gctx := errgroup.WithContext(ctx)

	refs := make([][]records.StoredReference, len(records.Kinds))
	refErrs := make([]error, len(records.Kinds))
	for i, kind := range records.Kinds {
		g.Go(func() error {
			stored, err := p.store.FindReferences(gctx, kind)
			if err != nil {
				if fatal(err) {
					return err
				}
				refErrs[i] = err
				return nil
			}
			refs[i] = stored
			return nil
		})
	}
	var subjects []records.StoredSubject
	g.Go(func() error {
		var err error
		subjects, err = p.store.FindSubjects(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKind := make(map[records.Kind][]records.StoredReference, len(records.Kinds))
	for i, kind := range records.Kinds {
		if err := refErrs[i]; err != nil {
			log.WithError(err).WithField("kind", kind).Warn("reference read failed")
			rep.Warn(fmt.Sprintf("Failed to resolve %s", kind.Plural()), err)
			continue
		}
		byKind[kind] = refs[i]
	}
	return ingest.NewLookup(byKind, subjects), nil
}
