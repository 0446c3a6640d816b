package campaign

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a campaign id does not exist.
var ErrNotFound = errors.New("campaign not found")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Frequency values accepted for scheduled campaigns.
const (
	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Recipient is the person a campaign session converses with.
type Recipient struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	School string `json:"school,omitempty"`
}

// Campaign describes one configured conversation scenario.
type Campaign struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Objective      string    `json:"objective"`
	OpeningMessage string    `json:"opening_message"`
	CompanyName    string    `json:"company_name"`
	Frequency      string    `json:"frequency"`
	Recipient      Recipient `json:"recipient"`
	CreatedAt      time.Time `json:"created_at"`
	LastRun        time.Time `json:"last_run,omitempty"`
}

// Validate checks campaign fields before persistence.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.Recipient.Name == "" {
		return fmt.Errorf("recipient name is required")
	}
	if c.Recipient.Email != "" && !emailPattern.MatchString(c.Recipient.Email) {
		return fmt.Errorf("invalid recipient email: %s", c.Recipient.Email)
	}
	if c.Frequency != "" {
		switch strings.ToLower(c.Frequency) {
		case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		default:
			return fmt.Errorf("invalid frequency %s (must be: hourly, daily, weekly)", c.Frequency)
		}
	}
	return nil
}

// Store persists campaigns in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the campaign database.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "campaign_store").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		objective TEXT NOT NULL DEFAULT '',
		opening_message TEXT NOT NULL DEFAULT '',
		company_name TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL DEFAULT '',
		recipient_name TEXT NOT NULL,
		recipient_email TEXT NOT NULL DEFAULT '',
		recipient_role TEXT NOT NULL DEFAULT '',
		recipient_school TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or replaces a campaign. A missing id is generated.
func (s *Store) Put(c *Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.Frequency = strings.ToLower(c.Frequency)

	var lastRun interface{}
	if !c.LastRun.IsZero() {
		lastRun = c.LastRun
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO campaigns
		(id, name, objective, opening_message, company_name, frequency,
		 recipient_name, recipient_email, recipient_role, recipient_school, created_at, last_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Objective, c.OpeningMessage, c.CompanyName, c.Frequency,
		c.Recipient.Name, c.Recipient.Email, c.Recipient.Role, c.Recipient.School, c.CreatedAt, lastRun,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}

	s.logger.Info().Str("campaign_id", c.ID).Str("name", c.Name).Msg("Campaign saved")
	return nil
}

// Get fetches a campaign by id.
func (s *Store) Get(id string) (*Campaign, error) {
	row := s.db.QueryRow(`
		SELECT id, name, objective, opening_message, company_name, frequency,
		       recipient_name, recipient_email, recipient_role, recipient_school, created_at, last_run
		FROM campaigns WHERE id = ?`, id)

	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}

// List returns all campaigns, newest first.
func (s *Store) List() ([]*Campaign, error) {
	rows, err := s.db.Query(`
		SELECT id, name, objective, opening_message, company_name, frequency,
		       recipient_name, recipient_email, recipient_role, recipient_school, created_at, last_run
		FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// Delete removes a campaign by id.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastRun stamps when a scheduled run last fired for the campaign.
func (s *Store) SetLastRun(id string, t time.Time) error {
	result, err := s.db.Exec("UPDATE campaigns SET last_run = ? WHERE id = ?", t, id)
	if err != nil {
		return fmt.Errorf("failed to update last run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	var c Campaign
	var lastRun sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Objective, &c.OpeningMessage, &c.CompanyName, &c.Frequency,
		&c.Recipient.Name, &c.Recipient.Email, &c.Recipient.Role, &c.Recipient.School, &c.CreatedAt, &lastRun,
	)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		c.LastRun = lastRun.Time
	}
	return &c, nil
}
