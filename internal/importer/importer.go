// Package importer loads ground-truth annotations from CSV files in the
// background. A job moves pending -> processing -> completed or failed; bad rows
// are collected on the job and never abort it.
package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/internal/scoring"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/internal/telemetry"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// MaxFileBytes bounds an uploaded CSV.
const MaxFileBytes = 10 << 20

const (
	outcomeCreated = "created"
	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

var (
	ErrUnreadableFile = errors.New("unreadable import file")
	ErrDatasetGone    = errors.New("dataset was deleted during import")
)

// Runner executes import jobs. Jobs run in goroutines owned by the Runner.
type Runner struct {
	store   store.Store
	metrics *telemetry.Metrics

	// ProgressEvery is how many rows pass between progress writes.
	ProgressEvery int

	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	jobs     map[uuid.UUID]chan struct{}
	inflight sync.WaitGroup
}

// NewRunner creates a Runner. metrics may be nil.
func NewRunner(st store.Store, metrics *telemetry.Metrics) *Runner {
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		store:         st,
		metrics:       metrics,
		ProgressEvery: 25,
		base:          base,
		stop:          stop,
		jobs:          make(map[uuid.UUID]chan struct{}),
	}
}

// Submit records a pending job for the dataset and processes data in the background.
func (r *Runner) Submit(ctx context.Context, datasetID uuid.UUID, filename string, data []byte) (*models.ImportJob, error) {
	if _, err := r.store.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job := &models.ImportJob{
		ID:        uuid.New(),
		DatasetID: datasetID,
		Filename:  filename,
		Status:    models.ImportStatusPending,
		Errors:    []models.RowError{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateImportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating import job: %w", err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.jobs[job.ID] = done
	r.mu.Unlock()

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			r.mu.Lock()
			delete(r.jobs, job.ID)
			r.mu.Unlock()
			close(done)
		}()
		r.Run(r.base, job, bytes.NewReader(data))
	}()

	slog.Info("import job submitted", "job_id", job.ID, "dataset_id", datasetID, "filename", filename)
	return job, nil
}

// Status returns the job as last persisted.
func (r *Runner) Status(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	return r.store.GetImportJob(ctx, jobID)
}

// Wait blocks until the local job finishes, or returns immediately when there is none.
func (r *Runner) Wait(jobID uuid.UUID) {
	r.mu.Lock()
	done, ok := r.jobs[jobID]
	r.mu.Unlock()
	if ok {
		<-done
	}
}

// Shutdown stops every local job and waits for them to record a final status.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes a pending job to a terminal status.
func (r *Runner) Run(ctx context.Context, job *models.ImportJob, src io.Reader) {
	log := slog.With("job_id", job.ID, "dataset_id", job.DatasetID)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("import job panicked", "panic", rec, "stack", string(debug.Stack()))
			r.fail(job.ID, fmt.Errorf("internal error: %v", rec))
		}
	}()

	sh, err := readSheet(src)
	if err != nil {
		r.fail(job.ID, err)
		return
	}

	if err := r.store.UpdateImportJobStatus(ctx, job.ID, models.ImportStatusProcessing,
		store.WithTotalRows(len(sh.rows))); err != nil {
		log.Error("failed to mark import processing", "error", err)
		r.fail(job.ID, err)
		return
	}

	p := &pass{runner: r, job: job, sheet: sh, progress: models.ImportProgress{Errors: []models.RowError{}}}
	if err := p.prepare(ctx); err != nil {
		r.fail(job.ID, err)
		return
	}

	for i, row := range sh.rows {
		if ctx.Err() != nil {
			r.failWith(job.ID, p.progress, "import interrupted by server shutdown")
			return
		}
		if err := p.apply(ctx, i+1, row); err != nil {
			log.Warn("import job failed", "row", i+1, "error", err)
			r.failWith(job.ID, p.progress, err.Error())
			return
		}
		if p.progress.ProcessedRows%r.every() == 0 {
			if err := r.store.UpdateImportProgress(ctx, job.ID, p.progress); err != nil {
				log.Warn("import progress write failed", "error", err)
			}
		}
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.store.UpdateImportProgress(writeCtx, job.ID, p.progress); err != nil {
		log.Error("final import progress write failed", "error", err)
		r.fail(job.ID, err)
		return
	}
	if err := r.store.UpdateImportJobStatus(writeCtx, job.ID, models.ImportStatusCompleted); err != nil {
		log.Error("failed to complete import job", "error", err)
		return
	}
	log.Info("import job completed",
		"rows", len(sh.rows),
		"created", p.progress.CreatedCount,
		"updated", p.progress.UpdatedCount,
		"skipped", p.progress.SkippedCount,
		"errors", len(p.progress.Errors),
	)
}

func (r *Runner) every() int {
	if r.ProgressEvery < 1 {
		return 1
	}
	return r.ProgressEvery
}

func (r *Runner) fail(jobID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.store.UpdateImportJobStatus(ctx, jobID, models.ImportStatusFailed,
		store.WithErrorMessage(cause.Error())); err != nil {
		slog.Error("failed to record import failure", "job_id", jobID, "error", err)
	}
}

// failWith saves the rows handled so far, then fails the job.
func (r *Runner) failWith(jobID uuid.UUID, progress models.ImportProgress, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.store.UpdateImportProgress(ctx, jobID, progress); err != nil {
		slog.Warn("import progress write failed", "job_id", jobID, "error", err)
	}
	r.fail(jobID, errors.New(msg))
}

// sheet is a parsed CSV with the column positions resolved.
type sheet struct {
	filename int
	imageID  int
	answer   int
	skipped  int
	flagged  int
	rows     [][]string
}

func readSheet(src io.Reader) (*sheet, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrUnreadableFile)
	}

	s := &sheet{filename: -1, imageID: -1, answer: -1, skipped: -1, flagged: -1}
	for i, col := range records[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "filename":
			s.filename = i
		case "image_id":
			s.imageID = i
		case "answer":
			s.answer = i
		case "is_skipped":
			s.skipped = i
		case "is_flagged":
			s.flagged = i
		}
	}
	if s.filename < 0 && s.imageID < 0 {
		return nil, fmt.Errorf("%w: header needs a filename or image_id column", ErrUnreadableFile)
	}
	if s.answer < 0 {
		return nil, fmt.Errorf("%w: header needs an answer column", ErrUnreadableFile)
	}
	s.rows = records[1:]
	return s, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// pass is the state of one job while it walks the rows.
type pass struct {
	runner   *Runner
	job      *models.ImportJob
	sheet    *sheet
	project  *models.Project
	byName   map[string]uuid.UUID
	byID     map[uuid.UUID]bool
	progress models.ImportProgress
}

func (p *pass) prepare(ctx context.Context) error {
	st := p.runner.store
	ds, err := st.GetDataset(ctx, p.job.DatasetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDatasetGone
		}
		return fmt.Errorf("loading dataset: %w", err)
	}
	proj, err := st.GetProject(ctx, ds.ProjectID)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	p.project = proj

	imgs, err := st.ListImages(ctx, ds.ID)
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	p.byName = make(map[string]uuid.UUID, len(imgs))
	p.byID = make(map[uuid.UUID]bool, len(imgs))
	for _, img := range imgs {
		p.byName[img.Filename] = img.ID
		p.byID[img.ID] = true
	}
	return nil
}

// rowError marks a problem confined to one row.
type rowError struct{ msg string }

func (e *rowError) Error() string { return e.msg }

func rowErrorf(format string, args ...any) error {
	return &rowError{msg: fmt.Sprintf(format, args...)}
}

// apply handles one data row. Row problems are recorded on the job; the
// returned error is fatal.
func (p *pass) apply(ctx context.Context, n int, row []string) error {
	outcome, err := p.upsert(ctx, row)
	var re *rowError
	switch {
	case errors.As(err, &re):
		p.progress.Errors = append(p.progress.Errors, models.RowError{Row: n, Error: re.msg})
		outcome = outcomeError
	case err != nil:
		return err
	}

	p.progress.ProcessedRows++
	switch outcome {
	case outcomeCreated:
		p.progress.CreatedCount++
	case outcomeUpdated:
		p.progress.UpdatedCount++
	case outcomeSkipped:
		p.progress.SkippedCount++
	}
	p.runner.metrics.RecordImportRow(ctx, outcome)
	return nil
}

func (p *pass) upsert(ctx context.Context, row []string) (string, error) {
	imgID, err := p.resolveImage(row)
	if err != nil {
		return "", err
	}
	skipped, err := parseFlag(cell(row, p.sheet.skipped), "is_skipped")
	if err != nil {
		return "", err
	}
	flagged, err := parseFlag(cell(row, p.sheet.flagged), "is_flagged")
	if err != nil {
		return "", err
	}

	var value json.RawMessage
	raw := cell(row, p.sheet.answer)
	switch {
	case raw != "":
		v, err := scoring.ParseAnswer(p.project.QuestionType, raw, p.project.Options)
		if err != nil {
			return "", rowErrorf("answer: %v", err)
		}
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		value = scoring.Encode(v)
	case !skipped && !flagged:
		return "", rowErrorf("answer is required unless the row is skipped or flagged")
	}

	st := p.runner.store
	prev, err := st.GetAnnotation(ctx, imgID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		prev = nil
	case err != nil:
		return "", fmt.Errorf("reading annotation: %w", err)
	}
	if prev != nil && prev.IsSkipped == skipped && prev.IsFlagged == flagged && sameValue(prev.AnswerValue, value) {
		return outcomeSkipped, nil
	}

	a := &models.Annotation{
		ID:          uuid.New(),
		ImageID:     imgID,
		AnswerValue: value,
		IsSkipped:   skipped,
		IsFlagged:   flagged,
	}
	if err := st.UpsertAnnotation(ctx, a); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if _, dsErr := st.GetDataset(ctx, p.job.DatasetID); errors.Is(dsErr, store.ErrNotFound) {
				return "", ErrDatasetGone
			}
			return "", rowErrorf("image %s no longer exists", imgID)
		}
		return "", fmt.Errorf("writing annotation: %w", err)
	}
	if prev == nil {
		return outcomeCreated, nil
	}
	return outcomeUpdated, nil
}

func (p *pass) resolveImage(row []string) (uuid.UUID, error) {
	if ref := cell(row, p.sheet.imageID); ref != "" {
		id, err := uuid.Parse(ref)
		if err != nil {
			return uuid.Nil, rowErrorf("image_id %q is not a valid id", ref)
		}
		if !p.byID[id] {
			return uuid.Nil, rowErrorf("image %s is not in this dataset", id)
		}
		return id, nil
	}
	name := cell(row, p.sheet.filename)
	if name == "" {
		return uuid.Nil, rowErrorf("row has no filename or image_id")
	}
	id, ok := p.byName[name]
	if !ok {
		return uuid.Nil, rowErrorf("no image named %q in this dataset", name)
	}
	return id, nil
}

func parseFlag(v, column string) (bool, error) {
	if v == "" {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, rowErrorf("%s: %q is not a boolean", column, v)
	}
	return b, nil
}

func sameValue(a, b json.RawMessage) bool {
	if len(a) == 0 || string(a) == "null" {
		return len(b) == 0 || string(b) == "null"
	}
	if len(b) == 0 {
		return false
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
