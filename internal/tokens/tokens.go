package tokens

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bbye98/minim/internal/shared"
)

// Record is the persisted form of one authenticated session.
type Record struct {
	ID             string
	Provider       string
	Flow           string
	ClientID       string
	ClientSecret   string
	UserIdentifier string
	RedirectURI    string
	Scopes         []string
	TokenType      string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time // zero when the token does not expire
	Extras         map[string]string
	AddedAt        time.Time
	AccessedAt     time.Time
}

// Filter selects records for List and Delete. Empty slices match everything,
// so a zero Filter addresses every record for the given provider. Delete
// treats that as a deliberate wipe; callers must confirm intent.
type Filter struct {
	Providers       []string
	Flows           []string
	ClientIDs       []string
	UserIdentifiers []string
}

// Store implements durable token persistence over a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store and ensures its schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			flow TEXT NOT NULL,
			client_id TEXT NOT NULL,
			client_secret TEXT NOT NULL DEFAULT '',
			user_identifier TEXT NOT NULL DEFAULT '',
			redirect_uri TEXT NOT NULL DEFAULT '',
			scopes TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMP,
			extras TEXT NOT NULL DEFAULT '{}',
			added_at TIMESTAMP NOT NULL,
			accessed_at TIMESTAMP NOT NULL,
			UNIQUE (provider, flow, client_id, user_identifier)
		);
		CREATE INDEX IF NOT EXISTS idx_tokens_identity
			ON tokens (provider, flow, client_id, accessed_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", shared.ErrStorage, err)
	}
	return nil
}

// Get retrieves the record for an identity key. An empty userIdentifier
// returns the most recently accessed record for (provider, flow, clientID);
// a non-empty one requires an exact match. Returns (nil, nil) when no record
// exists.
func (s *Store) Get(provider, flow, clientID, userIdentifier string) (*Record, error) {
	query := `
		SELECT id, provider, flow, client_id, client_secret, user_identifier,
		       redirect_uri, scopes, token_type, access_token, refresh_token,
		       expires_at, extras, added_at, accessed_at
		FROM tokens
		WHERE provider = ? AND flow = ? AND client_id = ?
	`
	args := []any{provider, flow, clientID}

	if userIdentifier != "" {
		query += " AND user_identifier = ?"
		args = append(args, userIdentifier)
	}
	query += " ORDER BY accessed_at DESC LIMIT 1"

	rec, err := scanRecord(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query token: %v", shared.ErrStorage, err)
	}
	return rec, nil
}

// Put upserts a record keyed by its identity tuple and marks it as the most
// recently accessed entry for its (provider, flow, client ID) triple.
func (s *Store) Put(rec *Record) error {
	if rec.Provider == "" || rec.Flow == "" || rec.ClientID == "" {
		return fmt.Errorf("%w: record is missing its identity key", shared.ErrInvalidArgument)
	}
	if rec.ID == "" {
		rec.ID = shared.GenerateID()
	}

	now := time.Now().UTC()
	if rec.AddedAt.IsZero() {
		rec.AddedAt = now
	}
	rec.AccessedAt = now

	extras, err := json.Marshal(rec.Extras)
	if err != nil {
		return fmt.Errorf("%w: failed to encode extras: %v", shared.ErrStorage, err)
	}

	var expiresAt any
	if !rec.ExpiresAt.IsZero() {
		expiresAt = rec.ExpiresAt.UTC()
	}

	query := `
		INSERT INTO tokens (
			id, provider, flow, client_id, client_secret, user_identifier,
			redirect_uri, scopes, token_type, access_token, refresh_token,
			expires_at, extras, added_at, accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, flow, client_id, user_identifier) DO UPDATE SET
			client_secret = excluded.client_secret,
			redirect_uri = excluded.redirect_uri,
			scopes = excluded.scopes,
			token_type = excluded.token_type,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			extras = excluded.extras,
			accessed_at = excluded.accessed_at
	`

	_, err = s.db.Exec(query,
		rec.ID, rec.Provider, rec.Flow, rec.ClientID, rec.ClientSecret,
		rec.UserIdentifier, rec.RedirectURI, strings.Join(rec.Scopes, " "),
		rec.TokenType, rec.AccessToken, rec.RefreshToken, expiresAt,
		string(extras), rec.AddedAt, rec.AccessedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert token: %v", shared.ErrStorage, err)
	}
	return nil
}

// Touch bumps the accessed timestamp for an exact identity key so the record
// becomes the most recently used one for its triple.
func (s *Store) Touch(provider, flow, clientID, userIdentifier string) error {
	query := `
		UPDATE tokens SET accessed_at = ?
		WHERE provider = ? AND flow = ? AND client_id = ? AND user_identifier = ?
	`
	_, err := s.db.Exec(query, time.Now().UTC(), provider, flow, clientID, userIdentifier)
	if err != nil {
		return fmt.Errorf("%w: failed to touch token: %v", shared.ErrStorage, err)
	}
	return nil
}

// Delete removes every record matching the filter. A zero filter removes all
// records; the destructive default is intentional and documented, so callers
// are expected to confirm before passing one.
func (s *Store) Delete(f Filter) error {
	where, args := f.clause()
	query := "DELETE FROM tokens" + where

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("%w: failed to delete tokens: %v", shared.ErrStorage, err)
	}
	return nil
}

// List returns records matching the filter, most recently accessed first.
func (s *Store) List(f Filter) ([]*Record, error) {
	where, args := f.clause()
	query := `
		SELECT id, provider, flow, client_id, client_secret, user_identifier,
		       redirect_uri, scopes, token_type, access_token, refresh_token,
		       expires_at, extras, added_at, accessed_at
		FROM tokens` + where + " ORDER BY accessed_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query tokens: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan token: %v", shared.ErrStorage, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStorage, err)
	}
	return records, nil
}

func (f Filter) clause() (string, []any) {
	var conds []string
	var args []any

	for _, c := range []struct {
		column string
		values []string
	}{
		{"provider", f.Providers},
		{"flow", f.Flows},
		{"client_id", f.ClientIDs},
		{"user_identifier", f.UserIdentifiers},
	} {
		if len(c.values) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.values)), ", ")
		conds = append(conds, fmt.Sprintf("%s IN (%s)", c.column, placeholders))
		for _, v := range c.values {
			args = append(args, v)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		scopes    string
		extras    string
		expiresAt sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.Provider, &rec.Flow, &rec.ClientID, &rec.ClientSecret,
		&rec.UserIdentifier, &rec.RedirectURI, &scopes, &rec.TokenType,
		&rec.AccessToken, &rec.RefreshToken, &expiresAt, &extras,
		&rec.AddedAt, &rec.AccessedAt,
	)
	if err != nil {
		return nil, err
	}

	if scopes != "" {
		rec.Scopes = strings.Fields(scopes)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	if extras != "" {
		if err := json.Unmarshal([]byte(extras), &rec.Extras); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}
