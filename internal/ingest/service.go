package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"receiptsnap/internal/imaging"
	"receiptsnap/internal/notion"
)

// titleLabel is combined with the date to form every record title.
const titleLabel = "Receipt"

// Store is the external document store: two-phase file upload plus record
// creation.
type Store interface {
	// CreateFileUpload requests an upload handle for a named file
	CreateFileUpload(ctx context.Context, filename string) (string, error)

	// SendFileUpload transmits file bytes against an upload handle
	SendFileUpload(ctx context.Context, id, filename, mimeType string, data []byte) error

	// CreateRecord creates one expense record
	CreateRecord(ctx context.Context, rec notion.Record) error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service drives the document store's upload protocol, one receipt per
// call. No state is shared between calls.
type Service struct {
	store      Store
	journal    Journal
	timeSource TimeSource
}

// NewService creates a new Service with the default time source
func NewService(store Store, journal Journal) *Service {
	return NewServiceWithDeps(store, journal, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with a custom time source for
// testing
func NewServiceWithDeps(store Store, journal Journal, timeSource TimeSource) *Service {
	return &Service{
		store:      store,
		journal:    journal,
		timeSource: timeSource,
	}
}

// Submit creates a record in the document store for one normalized receipt
// file. The two upload steps are best-effort: when creating the handle or
// sending the bytes fails, the record is still created without the photo.
// Losing the photo is preferable to losing the expense entry. Only record
// creation itself is fatal. Nothing is retried, and submitting the same
// receipt twice creates two records.
func (s *Service) Submit(ctx context.Context, file imaging.File, fields Fields) (*Submission, error) {
	now := s.timeSource.Now()
	date := resolveDate(fields.Date, now)

	uploadID, err := s.store.CreateFileUpload(ctx, file.Name)
	if err != nil {
		slog.Warn("File upload unavailable, creating record without attachment",
			"filename", file.Name,
			"error", err,
		)
		uploadID = ""
	}

	if uploadID != "" {
		if err := s.store.SendFileUpload(ctx, uploadID, file.Name, file.MIMEType, file.Data); err != nil {
			// The handle is simply abandoned; the store expires
			// unconsumed uploads on its own.
			slog.Warn("Sending file bytes failed, creating record without attachment",
				"filename", file.Name,
				"error", err,
			)
			uploadID = ""
		}
	}

	rec := notion.Record{
		Title:        fmt.Sprintf("%s %s", titleLabel, date),
		Date:         date,
		Amount:       parseAmountField(fields.Amount),
		Merchant:     strings.TrimSpace(fields.Merchant),
		Notes:        strings.TrimSpace(fields.Notes),
		FileUploadID: uploadID,
	}

	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}

	sub := &Submission{
		ID:        uuid.NewString(),
		Title:     rec.Title,
		Date:      rec.Date,
		Amount:    rec.Amount,
		Merchant:  rec.Merchant,
		Notes:     rec.Notes,
		Attached:  uploadID != "",
		CreatedAt: now,
	}

	if s.journal != nil {
		// The record already exists upstream; a journal failure must
		// not turn the request into a false negative.
		if err := s.journal.Append(sub); err != nil {
			slog.Warn("Recording submission in journal failed", "id", sub.ID, "error", err)
		}
	}

	return sub, nil
}

// Submissions lists past submissions, newest first.
func (s *Service) Submissions() ([]*Submission, error) {
	if s.journal == nil {
		return []*Submission{}, nil
	}
	subs, err := s.journal.List()
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	return subs, nil
}

// resolveDate returns the submitted value when it is a valid ISO calendar
// date, today's date otherwise.
func resolveDate(submitted string, now time.Time) string {
	submitted = strings.TrimSpace(submitted)
	if submitted != "" {
		if d, err := time.Parse("2006-01-02", submitted); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return now.Format("2006-01-02")
}

// parseAmountField parses a user-supplied decimal that may use a comma or
// a dot as separator. Returns nil when the field is absent or does not
// parse to a finite number.
func parseAmountField(raw string) *float64 {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}
