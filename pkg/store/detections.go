package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Column budgets. Applied at the sink only: decisions are made on the
// untruncated values.
const (
	maxReasonLen  = 250
	maxBrandLen   = 100
	maxContentLen = 65535
	maxAgentLen   = 1000
)

// shortURLLen bounds the final url quoted inside a persisted reason.
const shortURLLen = 50

// Detection is one persisted detection run.
type Detection struct {
	ID          string    `json:"detection_id"`
	Scope       string    `json:"scope,omitempty"`
	URL         string    `json:"url"`
	Phishing    bool      `json:"is_phish"`
	Reason      string    `json:"reason"`
	Brand       string    `json:"detected_brand,omitempty"`
	Confidence  float64   `json:"confidence"`
	HTML        string    `json:"-"`
	Favicon     string    `json:"-"`
	Screenshot  string    `json:"screenshot_base64,omitempty"`
	UserAgent   string    `json:"-"`
	IsRedirect  bool      `json:"is_redirect"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	CRP         bool      `json:"is_crp"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrNotFound is returned when a detection id does not exist.
var ErrNotFound = errors.New("detection not found")

// Sink persists detection runs. Every terminal pipeline state writes one
// row; redetects update the existing row in place.
type Sink interface {
	Insert(ctx context.Context, d *Detection) error
	Update(ctx context.Context, d *Detection) error
	GetByID(ctx context.Context, id string) (*Detection, error)
}

// normalize assigns an id, stamps the time, annotates the reason with the
// redirect target, and applies the column budgets.
func normalize(d *Detection) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.Reason = annotateReason(d.Reason, d.IsRedirect, d.RedirectURL)
	d.Brand = truncate(d.Brand, maxBrandLen)
	d.HTML = truncate(d.HTML, maxContentLen)
	d.Favicon = truncate(d.Favicon, maxContentLen)
	d.UserAgent = truncate(d.UserAgent, maxAgentLen)
}

// annotateReason appends " (redirected to <final url>)" to a persisted
// reason, shortening the url and trimming the reason so the whole string
// fits the reason budget.
func annotateReason(reason string, isRedirect bool, redirectURL string) string {
	if !isRedirect || redirectURL == "" {
		return truncate(reason, maxReasonLen)
	}
	short := redirectURL
	if len(short) > shortURLLen {
		short = short[:shortURLLen] + "..."
	}
	suffix := fmt.Sprintf(" (redirected to %s)", short)
	if max := maxReasonLen - len(suffix); len(reason) > max {
		reason = reason[:max]
	}
	return reason + suffix
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// PGSink is the Postgres-backed detection sink.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink connects the sink to Postgres and verifies the connection.
func NewPGSink(ctx context.Context, databaseURL string) (*PGSink, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGSink{pool: pool}, nil
}

// NewPGSinkFromPool wraps an existing pool (shared with the brand registry).
func NewPGSinkFromPool(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// Pool exposes the underlying pool for sharing with the registry.
func (s *PGSink) Pool() *pgxpool.Pool {
	return s.pool
}

const detectionColumns = `id, scope, url, is_phish, reason, detected_brand, confidence,
	html_content, favicon_base64, screenshot_base64, user_agent,
	is_redirect, redirect_url, is_crp, created_at`

func (s *PGSink) Insert(ctx context.Context, d *Detection) error {
	normalize(d)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detections (`+detectionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID, d.Scope, d.URL, d.Phishing, d.Reason, d.Brand, d.Confidence,
		d.HTML, d.Favicon, d.Screenshot, d.UserAgent,
		d.IsRedirect, d.RedirectURL, d.CRP, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

func (s *PGSink) Update(ctx context.Context, d *Detection) error {
	if d.ID == "" {
		return fmt.Errorf("update detection: missing id")
	}
	normalize(d)
	tag, err := s.pool.Exec(ctx,
		`UPDATE detections SET
			url = $2, is_phish = $3, reason = $4, detected_brand = $5,
			confidence = $6, html_content = $7, favicon_base64 = $8,
			screenshot_base64 = $9, user_agent = $10, is_redirect = $11,
			redirect_url = $12, is_crp = $13
		 WHERE id = $1`,
		d.ID, d.URL, d.Phishing, d.Reason, d.Brand,
		d.Confidence, d.HTML, d.Favicon,
		d.Screenshot, d.UserAgent, d.IsRedirect,
		d.RedirectURL, d.CRP,
	)
	if err != nil {
		return fmt.Errorf("update detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGSink) GetByID(ctx context.Context, id string) (*Detection, error) {
	var d Detection
	err := s.pool.QueryRow(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.Scope, &d.URL, &d.Phishing, &d.Reason, &d.Brand, &d.Confidence,
		&d.HTML, &d.Favicon, &d.Screenshot, &d.UserAgent,
		&d.IsRedirect, &d.RedirectURL, &d.CRP, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get detection %s: %w", id, err)
	}
	return &d, nil
}

// Close releases the pool.
func (s *PGSink) Close() {
	s.pool.Close()
}
