package claim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-validator/internal/extraction"
	"github.com/zombor/expense-validator/internal/notify"
)

// IDGenerator generates unique IDs for claims
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options configures the pipeline a Service runs. Zero values take defaults.
type Options struct {
	Parser   *Parser
	Policy   Policy
	Composer Composer
	Logger   *slog.Logger
}

// Service takes claims in, runs them through the pipeline and keeps the outcome
type Service struct {
	db          DB
	index       DuplicateIndex
	extractor   extraction.Extractor
	storage     Storage
	sink        notify.Sink
	pipeline    *Pipeline
	logger      *slog.Logger
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with the default ID generator and time source
func NewService(db DB, index DuplicateIndex, extractor extraction.Extractor, storage Storage, sink notify.Sink, opts Options) *Service {
	return NewServiceWithDeps(db, index, extractor, storage, sink, opts, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, index DuplicateIndex, extractor extraction.Extractor, storage Storage, sink notify.Sink, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	if opts.Parser == nil {
		opts.Parser = MustNewParser(DefaultParserConfig())
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if sink == nil {
		sink = notify.Multi{}
	}

	s := &Service{
		db:          db,
		index:       index,
		extractor:   extractor,
		storage:     storage,
		sink:        sink,
		logger:      opts.Logger,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
	s.pipeline = NewPipeline(s.extractReceipt, opts.Parser, NewEngine(index, opts.Policy), opts.Composer, opts.Logger)
	return s
}

var (
	reFilenameJunk   = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reFilenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips phone-camera noise from upload names
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = reFilenameJunk.ReplaceAllString(base, "")
	base = reFilenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// extractReceipt is the pipeline's text extractor: it loads the stored file
// and hands it to the configured backend
func (s *Service) extractReceipt(ctx context.Context, ref ReceiptRef) (string, error) {
	data, err := s.storage.Get(ref.Path)
	if err != nil {
		return "", &extraction.ExtractionError{Ref: ref.String(), Err: err}
	}
	text, err := s.extractor.ExtractText(ctx, data, ref.ContentType)
	if err != nil {
		return "", &extraction.ExtractionError{Ref: ref.String(), Err: err}
	}
	return text, nil
}

// SubmitClaim validates a submission, stores the receipt and runs the claim
// through the pipeline. A run that fails still produces a stored record; the
// record is returned together with the error that stopped the run.
func (s *Service) SubmitClaim(ctx context.Context, in ClaimInput) (*ClaimRecord, error) {
	employeeID, employeeName, amount, date, err := in.Validate()
	if err != nil {
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	contentType := strings.ToLower(strings.TrimSpace(in.ContentType))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = extraction.ContentTypeFor(in.Filename)
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(in.Filename)), in.Data)
	if err != nil {
		return nil, fmt.Errorf("saving receipt file: %w", err)
	}

	c := Claim{
		ID:            id,
		EmployeeID:    employeeID,
		EmployeeName:  employeeName,
		ClaimedAmount: amount,
		Date:          date,
		Receipt:       ReceiptRef{Path: savedPath, ContentType: contentType},
	}

	run := s.pipeline.Execute(ctx, c)

	record := &ClaimRecord{
		Claim:     c,
		State:     run.State,
		RawText:   run.RawText,
		Parsed:    run.Parsed,
		Verdict:   run.Verdict,
		Message:   run.Message,
		CreatedAt: now,
	}
	if run.Verdict != nil {
		record.Audience = AudienceFor(*run.Verdict)
	}
	if run.Err != nil {
		record.Error = run.Err.Error()
		if err := s.storage.Delete(savedPath); err != nil {
			s.logger.Warn("Failed to delete receipt file", "path", savedPath, "error", err)
		}
		record.Claim.Receipt.Path = ""
	}

	if err := s.db.SaveClaim(record); err != nil {
		s.rollback(record)
		return nil, fmt.Errorf("saving claim to database: %w", err)
	}

	if run.State == StateNotified {
		s.deliver(ctx, record)
	}

	return record, run.Err
}

// rollback undoes what a run left behind when its record could not be stored,
// so the same receipt can be submitted again
func (s *Service) rollback(record *ClaimRecord) {
	if record.Verdict != nil && record.Verdict.Approved {
		if err := s.index.Forget(record.Verdict.Fingerprint); err != nil {
			s.logger.Error("Failed to forget fingerprint", "claim_id", record.Claim.ID, "error", err)
		}
	}
	if path := record.Claim.Receipt.Path; path != "" {
		if err := s.storage.Delete(path); err != nil {
			s.logger.Warn("Failed to delete receipt file", "path", path, "error", err)
		}
	}
}

func (s *Service) deliver(ctx context.Context, record *ClaimRecord) {
	n := notify.Notification{
		ClaimID:      record.Claim.ID,
		EmployeeID:   record.Claim.EmployeeID,
		EmployeeName: record.Claim.EmployeeName,
		Audience:     record.Audience,
		Approved:     record.Verdict.Approved,
		Message:      record.Message,
		CreatedAt:    record.CreatedAt,
	}
	if err := s.sink.Deliver(ctx, n); err != nil {
		s.logger.Error("Failed to deliver notification", "claim_id", record.Claim.ID, "error", err)
	}
}

// GetClaim retrieves a claim record by ID
func (s *Service) GetClaim(id string) (*ClaimRecord, error) {
	record, err := s.db.GetClaim(id)
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	return record, nil
}

// ListClaims returns all claim records, oldest first
func (s *Service) ListClaims() ([]*ClaimRecord, error) {
	records, err := s.db.ListClaims()
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Claim.ID < records[j].Claim.ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// GetClaimFile retrieves the stored receipt for a claim
func (s *Service) GetClaimFile(id string) ([]byte, string, error) {
	record, err := s.db.GetClaim(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting claim: %w", err)
	}
	if record.Claim.Receipt.Path == "" {
		return nil, "", fmt.Errorf("%w: no receipt file for %s", ErrClaimNotFound, id)
	}

	data, err := s.storage.Get(record.Claim.Receipt.Path)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, record.Claim.Receipt.ContentType, nil
}

// ExportClaims writes every claim record as an XLSX workbook
func (s *Service) ExportClaims(w io.Writer) error {
	records, err := s.ListClaims()
	if err != nil {
		return err
	}
	if err := WriteClaimsXLSX(w, records); err != nil {
		return fmt.Errorf("exporting claims: %w", err)
	}
	s.logger.Info("export.xlsx.ok", "rows", len(records))
	return nil
}

// IsExtractionFailure reports whether err stopped a run during text extraction
func IsExtractionFailure(err error) bool {
	var extractErr *extraction.ExtractionError
	return errors.As(err, &extractErr)
}
