package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
	"github.com/iota-uz/policyhub/modules/ingestion/infrastructure/persistence"
	"github.com/iota-uz/policyhub/modules/ingestion/presentation/controllers/dtos"
	"github.com/iota-uz/policyhub/modules/ingestion/services"
	"github.com/iota-uz/policyhub/pkg/configuration"
)

const (
	backendDB     = "db"
	backendMemory = "memory"
)

type runOptions struct {
	input     string
	backend   string
	dsn       string
	batchSize int
	verbose   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest rows from a JSON file and print progress events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "JSON file with an array of rows or {\"rows\": [...]}; - reads stdin (required)")
	cmd.Flags().StringVar(&opts.backend, "backend", backendDB, "Backend: db or memory")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL connection string (default: DB_* environment)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", persistence.DefaultBatchSize, "Rows per write batch")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Log pipeline details to stderr")
	_ = cmd.MarkFlagRequired("input")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		opts.backend = strings.ToLower(strings.TrimSpace(opts.backend))
		if opts.backend != backendDB && opts.backend != backendMemory {
			return withCode(exitUsage, fmt.Errorf("invalid --backend %q: want db or memory", opts.backend))
		}
		if opts.batchSize <= 0 {
			return withCode(exitUsage, fmt.Errorf("--batch-size must be positive"))
		}
		return nil
	}
	return cmd
}

// readRows accepts either a bare JSON array of row objects or a submit body.
func readRows(r io.Reader) ([]ingest.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	var dto dtos.SubmitRunDTO
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if len(data) > 0 && data[0] == '[' {
		err = dec.Decode(&dto.Rows)
	} else {
		err = dec.Decode(&dto)
	}
	if err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	if errs, ok := dto.Ok(); !ok {
		return nil, errors.New(dtos.Message(errs))
	}
	return dto.ToRows(), nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func openStore(ctx context.Context, opts runOptions) (records.Store, func(), error) {
	if opts.backend == backendMemory {
		return persistence.NewMemoryStore(), func() {}, nil
	}
	dsn := opts.dsn
	if dsn == "" {
		dsn = configuration.Use().Database.Opts
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return persistence.NewPgStore(pool, opts.batchSize), pool.Close, nil
}

func runIngest(ctx context.Context, opts runOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	in, err := openInput(opts.input, stdin)
	if err != nil {
		return withCode(exitUsage, err)
	}
	rows, err := readRows(in)
	_ = in.Close()
	if err != nil {
		return withCode(exitValidation, err)
	}

	store, closeStore, err := openStore(ctx, opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect: %w", err))
	}
	defer closeStore()

	logger := stderrLogger(stderr, opts.verbose)
	pipeline := services.NewPipeline(store, services.PipelineOptions{
		Logger: logger.WithField("component", "ingest-pipeline"),
	})

	var writeErr error
	rep := ingest.NewReporter(uuid.NewString(), ingest.SinkFunc(func(e ingest.Event) {
		if writeErr == nil {
			writeErr = writeJSONLine(stdout, e)
		}
	}), nil)

	_, err = pipeline.Run(ctx, rep, rows)
	switch {
	case writeErr != nil:
		return writeErr
	case records.IsUnavailable(err):
		return withCode(exitDB, err)
	case err != nil:
		return withCode(exitRunFailed, err)
	}
	return nil
}
