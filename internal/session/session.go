package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/db"
)

const (
	report_session_set   = "session.set"
	report_session_clear = "session.clear-all"
)

// Field names a persisted session credential.
type Field string

const (
	FieldCookie      Field = "cookie"
	FieldSesskey     Field = "sesskey"
	FieldUserId      Field = "user_id"
	FieldWebKey      Field = "web_key"
	FieldFeaturesKey Field = "features_key"
	FieldMyKey       Field = "my_key"
)

// Session is a point in time copy of the stored credentials, empty strings
// and a zero UserId mean absent.
type Session struct {
	Cookie      string
	Sesskey     string
	UserId      int64
	WebKey      string
	FeaturesKey string
	MyKey       string
}

func (s Session) Authenticated() bool {
	return s.Cookie != ""
}

// HasApiKeys reports whether all three api keys are present.
func (s Session) HasApiKeys() bool {
	return s.WebKey != "" && s.FeaturesKey != "" && s.MyKey != ""
}

// Clearer is state derived from a session that must not outlive it.
type Clearer interface {
	Clear(ctx context.Context) error
}

// ClearerFunc adapts a function to Clearer.
type ClearerFunc func(ctx context.Context) error

func (f ClearerFunc) Clear(ctx context.Context) error {
	return f(ctx)
}

// Store persists a single logical session in sqlite.
type Store struct {
	qry      *db.Queries
	makeTx   db.MakeTx
	tel      telemetry.API
	clearers []Clearer
}

// NewStore creates a Store, clearers are cleared along with the session by ClearAll.
func NewStore(database *sql.DB, tel telemetry.API, clearers ...Clearer) *Store {
	assert.NotNil(database)
	assert.NotNil(tel)
	return &Store{
		qry:      db.New(database),
		makeTx:   db.NewMakeTx(database),
		tel:      tel,
		clearers: clearers,
	}
}

// OnClear registers more state to clear with the session.
func (s *Store) OnClear(c Clearer) {
	s.clearers = append(s.clearers, c)
}

// Get returns a field, ok is false when it has never been set or was unset.
func (s *Store) Get(ctx context.Context, field Field) (string, bool, error) {
	value, err := s.qry.GetSessionField(ctx, string(field))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}

// Set persists a field, setting an empty value is the same as Unset.
func (s *Store) Set(ctx context.Context, field Field, value string) error {
	if value == "" {
		return s.Unset(ctx, field)
	}
	err := s.qry.SetSessionField(ctx, db.SessionField{Field: string(field), Value: value})
	if err != nil {
		s.tel.ReportBroken(report_session_set, err, field)
		return err
	}
	return nil
}

func (s *Store) Unset(ctx context.Context, field Field) error {
	return s.qry.DeleteSessionField(ctx, string(field))
}

// SetAll writes every non-empty field of sess in one transaction.
func (s *Store) SetAll(ctx context.Context, sess Session) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return err
	}
	defer discard()

	for field, value := range sess.values() {
		if value == "" {
			continue
		}
		err := tx.SetSessionField(ctx, db.SessionField{Field: string(field), Value: value})
		if err != nil {
			return err
		}
	}
	return commit()
}

func (s Session) values() map[Field]string {
	userId := ""
	if s.UserId > 0 {
		userId = strconv.FormatInt(s.UserId, 10)
	}
	return map[Field]string{
		FieldCookie:      s.Cookie,
		FieldSesskey:     s.Sesskey,
		FieldUserId:      userId,
		FieldWebKey:      s.WebKey,
		FieldFeaturesKey: s.FeaturesKey,
		FieldMyKey:       s.MyKey,
	}
}

// Snapshot reads every field at once.
func (s *Store) Snapshot(ctx context.Context) (Session, error) {
	rows, err := s.qry.ListSessionFields(ctx)
	if err != nil {
		return Session{}, err
	}

	var out Session
	for _, row := range rows {
		switch Field(row.Field) {
		case FieldCookie:
			out.Cookie = row.Value
		case FieldSesskey:
			out.Sesskey = row.Value
		case FieldUserId:
			id, err := strconv.ParseInt(row.Value, 10, 64)
			if err != nil {
				s.tel.ReportWarning("session.snapshot", fmt.Errorf("user_id %q: %w", row.Value, err))
				continue
			}
			out.UserId = id
		case FieldWebKey:
			out.WebKey = row.Value
		case FieldFeaturesKey:
			out.FeaturesKey = row.Value
		case FieldMyKey:
			out.MyKey = row.Value
		}
	}
	return out, nil
}

// ClearAll removes every field and then everything registered with OnClear.
// Every clearer runs even if an earlier one fails.
func (s *Store) ClearAll(ctx context.Context) error {
	var errs []error

	err := s.qry.DeleteAllSessionFields(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, c := range s.clearers {
		err := c.Clear(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		s.tel.ReportBroken(report_session_clear, err)
	}
	return err
}
