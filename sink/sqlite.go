package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/mailbox-export/model"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	run_id              TEXT NOT NULL,
	mailbox             TEXT NOT NULL,
	id                  INTEGER NOT NULL,
	sender              TEXT NOT NULL,
	recipients          TEXT NOT NULL,
	subject             TEXT NOT NULL,
	date                TEXT NOT NULL,
	time                TEXT NOT NULL,
	timezone            TEXT NOT NULL,
	message             TEXT NOT NULL,
	main_body           TEXT NOT NULL,
	main_body_length    INTEGER NOT NULL,
	html_location       TEXT NOT NULL,
	attachment_location TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id, mailbox, id);
CREATE INDEX IF NOT EXISTS idx_records_sender ON records(sender);
`,
	},
}

// Row is the stored shape of a record.
type Row struct {
	RunID              string `db:"run_id"`
	Mailbox            string `db:"mailbox"`
	ID                 int    `db:"id"`
	Sender             string `db:"sender"`
	Recipients         string `db:"recipients"`
	Subject            string `db:"subject"`
	Date               string `db:"date"`
	Time               string `db:"time"`
	Timezone           string `db:"timezone"`
	Message            string `db:"message"`
	MainBody           string `db:"main_body"`
	MainBodyLength     int    `db:"main_body_length"`
	HTMLLocation       string `db:"html_location"`
	AttachmentLocation string `db:"attachment_location"`
}

// SQLite stores records in the records table of emailData.db.
type SQLite struct {
	db    *sqlx.DB
	runID string
	path  string
}

func NewSQLite(dir, runID string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, BaseName+".db")

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLite{db: db, runID: runID, path: path}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) DB() *sqlx.DB {
	return s.db
}

func (s *SQLite) runMigrations() error {
	current := 0

	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLite) Write(ctx context.Context, _ string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO records (
			run_id, mailbox, id,
			sender, recipients, subject,
			date, time, timezone,
			message, main_body, main_body_length,
			html_location, attachment_location
		) VALUES (
			:run_id, :mailbox, :id,
			:sender, :recipients, :subject,
			:date, :time, :timezone,
			:message, :main_body, :main_body_length,
			:html_location, :attachment_location
		)`

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, s.row(rec)); err != nil {
			return fmt.Errorf("inserting record %s/%d: %w", rec.Folder, rec.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) row(rec model.Record) Row {
	return Row{
		RunID:              s.runID,
		Mailbox:            rec.Folder,
		ID:                 rec.ID,
		Sender:             rec.Header.Sender,
		Recipients:         rec.Header.Recipients,
		Subject:            rec.Header.Subject,
		Date:               rec.Header.Date,
		Time:               rec.Header.Time,
		Timezone:           rec.Header.Zone,
		Message:            rec.Message,
		MainBody:           rec.MainBody.Text,
		MainBodyLength:     rec.MainBody.Words,
		HTMLLocation:       rec.HTMLPath,
		AttachmentLocation: rec.AttachmentList(),
	}
}

// Rows returns the records stored for the current run, in insertion order.
func (s *SQLite) Rows(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM records WHERE run_id = ? ORDER BY rowid", s.runID)
	if err != nil {
		return nil, fmt.Errorf("selecting records: %w", err)
	}
	return rows, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
