package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/execution/model"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	// CreateWithResults inserts the submission, its test case results, and,
	// when solved is true, upserts the solved marker — all in one
	// transaction. Nothing is visible if any write fails.
	CreateWithResults(ctx context.Context, submission *model.Submission, results []*model.TestCaseResult, solved bool) error

	// GetByID retrieves a submission with its test case results.
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) SubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) SubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const submissionColumns = "submission_id, user_id, problem_id, language, source_code, source_key, status, time_list, memory_list, output_log, created_at"

// CreateWithResults writes the full submission atomically.
func (r *MySQLSubmissionRepository) CreateWithResults(ctx context.Context, submission *model.Submission, results []*model.TestCaseResult, solved bool) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if len(results) == 0 {
		return errors.New("test case results are required")
	}

	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := r.insertSubmission(ctx, tx, submission); err != nil {
			return err
		}
		for _, result := range results {
			if err := r.insertTestCaseResult(ctx, tx, submission.SubmissionID, result); err != nil {
				return err
			}
		}
		if solved {
			return r.upsertSolvedMarker(ctx, tx, submission)
		}
		return nil
	})
	if err != nil {
		return err
	}

	submission.TestResults = results
	if r.cache != nil {
		r.setCache(ctx, submission)
	}
	return nil
}

func (r *MySQLSubmissionRepository) insertSubmission(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	query := `
		INSERT INTO submissions
		(submission_id, user_id, problem_id, language, source_code, source_key, status, time_list, memory_list, output_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.UserID,
		submission.ProblemID,
		submission.Language,
		submission.SourceCode,
		submission.SourceKey,
		string(submission.Status),
		submission.TimeList,
		submission.MemoryList,
		submission.OutputLog,
	)
	return err
}

func (r *MySQLSubmissionRepository) insertTestCaseResult(ctx context.Context, tx db.Transaction, submissionID string, result *model.TestCaseResult) error {
	if result == nil {
		return errors.New("test case result is nil")
	}
	if result.Ordinal <= 0 {
		return errors.New("test case ordinal must be positive")
	}
	query := `
		INSERT INTO test_case_results
		(submission_id, ordinal, passed, stdout, expected, stderr, compile_output, status, time_used, memory_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submissionID,
		result.Ordinal,
		result.Passed,
		result.Stdout,
		result.Expected,
		result.Stderr,
		result.CompileOutput,
		result.Status,
		result.TimeUsed,
		result.MemoryUsed,
	)
	return err
}

// upsertSolvedMarker relies on the (user_id, problem_id) unique key so two
// accepted submissions racing for the same pair resolve at the database.
func (r *MySQLSubmissionRepository) upsertSolvedMarker(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	query := `
		INSERT INTO solved_problems (user_id, problem_id, submission_id)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			submission_id = VALUES(submission_id),
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.UserID,
		submission.ProblemID,
		submission.SubmissionID,
	)
	return err
}

// GetByID retrieves a submission by id, read-through cached.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*model.Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *model.Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*model.Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission := &model.Submission{}
	var status string
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.Language,
		&submission.SourceCode,
		&submission.SourceKey,
		&status,
		&submission.TimeList,
		&submission.MemoryList,
		&submission.OutputLog,
		&submission.CreatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	submission.Status = model.SubmissionStatus(status)

	results, err := r.listTestCaseResults(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	submission.TestResults = results
	return submission, nil
}

func (r *MySQLSubmissionRepository) listTestCaseResults(ctx context.Context, tx db.Transaction, submissionID string) ([]*model.TestCaseResult, error) {
	query := `
		SELECT id, submission_id, ordinal, passed, stdout, expected, stderr, compile_output, status, time_used, memory_used
		FROM test_case_results
		WHERE submission_id = ?
		ORDER BY ordinal ASC
	`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.TestCaseResult
	for rows.Next() {
		result := &model.TestCaseResult{}
		if err := rows.Scan(
			&result.ID,
			&result.SubmissionID,
			&result.Ordinal,
			&result.Passed,
			&result.Stdout,
			&result.Expected,
			&result.Stderr,
			&result.CompileOutput,
			&result.Status,
			&result.TimeUsed,
			&result.MemoryUsed,
		); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *MySQLSubmissionRepository) setCache(ctx context.Context, submission *model.Submission) {
	if submission == nil || r.cache == nil {
		return
	}
	payload := marshalSubmission(submission)
	if payload == "" {
		return
	}
	_ = r.cache.Set(ctx, submissionCacheKey(submission.SubmissionID), payload, cache.JitterTTL(r.ttl))
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func marshalSubmission(submission *model.Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*model.Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission model.Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}
