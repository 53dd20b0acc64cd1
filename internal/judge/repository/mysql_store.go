package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"codearena/internal/common/db"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
)

// SubmissionsSchema creates the submissions table used by MySQLStore.
const SubmissionsSchema = "CREATE TABLE IF NOT EXISTS `submissions` (" +
	"`id` VARCHAR(64) NOT NULL," +
	"`challenge_id` VARCHAR(128) NOT NULL," +
	"`competition_id` VARCHAR(64) NOT NULL DEFAULT ''," +
	"`user_id` VARCHAR(64) NOT NULL," +
	"`source_code` MEDIUMTEXT NOT NULL," +
	"`language` VARCHAR(16) NOT NULL," +
	"`status` VARCHAR(32) NOT NULL," +
	"`results` JSON NULL," +
	"`score` INT NOT NULL DEFAULT 0," +
	"`max_points` INT NOT NULL DEFAULT 0," +
	"`error_kind` VARCHAR(32) NOT NULL DEFAULT ''," +
	"`error_message` TEXT NULL," +
	"`submitted_at` DATETIME(3) NOT NULL," +
	"`started_at` DATETIME(3) NULL," +
	"`finished_at` DATETIME(3) NULL," +
	"PRIMARY KEY (`id`)," +
	"KEY `submissions_user_idx` (`user_id`, `submitted_at`)," +
	"KEY `submissions_competition_idx` (`competition_id`)" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"

const submissionColumns = "`id`,`challenge_id`,`competition_id`,`user_id`,`source_code`,`language`,`status`," +
	"`results`,`score`,`max_points`,`error_kind`,`error_message`,`submitted_at`,`started_at`,`finished_at`"

type submissionRow struct {
	ID            string         `db:"id"`
	ChallengeID   string         `db:"challenge_id"`
	CompetitionID string         `db:"competition_id"`
	UserID        string         `db:"user_id"`
	SourceCode    string         `db:"source_code"`
	Language      string         `db:"language"`
	Status        string         `db:"status"`
	Results       sql.NullString `db:"results"`
	Score         int64          `db:"score"`
	MaxPoints     int64          `db:"max_points"`
	ErrorKind     string         `db:"error_kind"`
	ErrorMessage  sql.NullString `db:"error_message"`
	SubmittedAt   time.Time      `db:"submitted_at"`
	StartedAt     sql.NullTime   `db:"started_at"`
	FinishedAt    sql.NullTime   `db:"finished_at"`
}

// MySQLStore persists submissions through go-zero sqlx.
type MySQLStore struct {
	conn  sqlx.SqlConn
	table string
}

func NewMySQLStore(conn sqlx.SqlConn) *MySQLStore {
	return &MySQLStore{conn: conn, table: "`submissions`"}
}

// EnsureSchema creates the submissions table when it is missing.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecCtx(ctx, SubmissionsSchema); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create submissions table failed")
	}
	return nil
}

func (s *MySQLStore) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshal results failed: %w", err)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)", s.table, submissionColumns)
	_, err = s.conn.ExecCtx(ctx, query,
		sub.ID, sub.ChallengeID, sub.CompetitionID, sub.UserID, sub.SourceCode, string(sub.Language), string(sub.Status),
		string(results), sub.Score, sub.MaxPoints, string(sub.ErrorKind), nullString(sub.ErrorMessage),
		sub.SubmittedAt.UTC(), nullTime(sub.StartedAt), nullTime(sub.FinishedAt))
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.New(appErr.Conflict).WithDetail("submission_id", sub.ID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, id string) (*model.Submission, error) {
	var row submissionRow
	query := fmt.Sprintf("SELECT %s FROM %s WHERE `id` = ? LIMIT 1", submissionColumns, s.table)
	if err := s.conn.QueryRowCtx(ctx, &row, query, id); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission failed")
	}
	return fromRow(&row)
}

func (s *MySQLStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	query := fmt.Sprintf("UPDATE %s SET `status` = ?, `started_at` = ? WHERE `id` = ? AND `status` = ?", s.table)
	res, err := s.conn.ExecCtx(ctx, query, string(model.StatusRunning), at.UTC(), id, string(model.StatusPending))
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "mark running failed")
	}
	return s.affectedOrMissing(ctx, res, id)
}

func (s *MySQLStore) Finish(ctx context.Context, sub *model.Submission) (bool, error) {
	if sub == nil || !sub.Status.Terminal() {
		return false, appErr.New(appErr.InvalidParams).WithMessage("finish requires a terminal status")
	}
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return false, fmt.Errorf("marshal results failed: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET `status` = ?, `results` = ?, `score` = ?, `max_points` = ?, `error_kind` = ?, "+
		"`error_message` = ?, `finished_at` = ? WHERE `id` = ? AND `status` IN (?, ?)", s.table)
	res, err := s.conn.ExecCtx(ctx, query,
		string(sub.Status), string(results), sub.Score, sub.MaxPoints, string(sub.ErrorKind),
		nullString(sub.ErrorMessage), nullTime(sub.FinishedAt), sub.ID,
		string(model.StatusPending), string(model.StatusRunning))
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "finish submission failed")
	}
	return s.affectedOrMissing(ctx, res, sub.ID)
}

func (s *MySQLStore) ListUnfinished(ctx context.Context) ([]*model.Submission, error) {
	var rows []*submissionRow
	query := fmt.Sprintf("SELECT %s FROM %s WHERE `status` IN (?, ?) ORDER BY `submitted_at`, `id`", submissionColumns, s.table)
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, string(model.StatusPending), string(model.StatusRunning)); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list unfinished submissions failed")
	}
	out := make([]*model.Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// affectedOrMissing tells a lost CAS apart from an unknown id.
func (s *MySQLStore) affectedOrMissing(ctx context.Context, res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "rows affected failed")
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func fromRow(row *submissionRow) (*model.Submission, error) {
	sub := &model.Submission{
		ID:            row.ID,
		ChallengeID:   row.ChallengeID,
		CompetitionID: row.CompetitionID,
		UserID:        row.UserID,
		SourceCode:    row.SourceCode,
		Language:      lang.Language(row.Language),
		Status:        model.Status(row.Status),
		Score:         int(row.Score),
		MaxPoints:     int(row.MaxPoints),
		ErrorKind:     result.ErrorKind(row.ErrorKind),
		ErrorMessage:  row.ErrorMessage.String,
		SubmittedAt:   row.SubmittedAt,
	}
	if row.StartedAt.Valid {
		sub.StartedAt = row.StartedAt.Time
	}
	if row.FinishedAt.Valid {
		sub.FinishedAt = row.FinishedAt.Time
	}
	if row.Results.Valid && row.Results.String != "" {
		if err := json.Unmarshal([]byte(row.Results.String), &sub.Results); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode results failed")
		}
	}
	return sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ SubmissionStore = (*MySQLStore)(nil)
