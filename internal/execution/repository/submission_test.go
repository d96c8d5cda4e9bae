package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/execution/model"
	"arenaoj/internal/execution/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 1, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeTx struct {
	db *fakeDatabase
}

func (t *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errors.New("not implemented")
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	t.db.execCalls = append(t.db.execCalls, execCall{query: query, args: args})
	if t.db.failAtExec > 0 && len(t.db.execCalls) >= t.db.failAtExec {
		return nil, errors.New("exec failed")
	}
	return fakeResult{}, nil
}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeDatabase struct {
	execCalls  []execCall
	failAtExec int
	rolledBack bool
	committed  bool
	queryRows  int
}

func (d *fakeDatabase) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	d.queryRows++
	return nil, errors.New("not implemented")
}

func (d *fakeDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	d.queryRows++
	return nil
}

func (d *fakeDatabase) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	d.execCalls = append(d.execCalls, execCall{query: query, args: args})
	return fakeResult{}, nil
}

func (d *fakeDatabase) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	tx := &fakeTx{db: d}
	if err := fn(tx); err != nil {
		d.rolledBack = true
		return err
	}
	d.committed = true
	return nil
}

func (d *fakeDatabase) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	return &fakeTx{db: d}, nil
}

func (d *fakeDatabase) Ping(ctx context.Context) error { return nil }
func (d *fakeDatabase) Close() error                   { return nil }
func (d *fakeDatabase) Stats() db.Stats                { return db.Stats{} }

func sampleSubmission() *model.Submission {
	return &model.Submission{
		SubmissionID: "sub-1",
		UserID:       7,
		ProblemID:    42,
		Language:     "python",
		SourceCode:   "print(input())",
		SourceKey:    "submissions/sub-1/source.code",
		Status:       model.StatusAccepted,
		TimeList:     `["2 ms","3 ms"]`,
		MemoryList:   `["1024 KB","1024 KB"]`,
		OutputLog:    `[]`,
		CreatedAt:    time.Now(),
	}
}

func sampleResults(n int) []*model.TestCaseResult {
	results := make([]*model.TestCaseResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, &model.TestCaseResult{
			SubmissionID: "sub-1",
			Ordinal:      i + 1,
			Passed:       true,
			Stdout:       "ok",
			Expected:     "ok",
			Status:       string(model.StatusAccepted),
			TimeUsed:     "2 ms",
			MemoryUsed:   "1024 KB",
		})
	}
	return results
}

func TestCreateWithResultsWritesAllRows(t *testing.T) {
	database := &fakeDatabase{}
	repo := repository.NewSubmissionRepository(database, nil)

	err := repo.CreateWithResults(context.Background(), sampleSubmission(), sampleResults(3), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !database.committed {
		t.Fatal("expected transaction commit")
	}
	// 1 submission insert + 3 test case inserts + 1 solved marker upsert.
	if len(database.execCalls) != 5 {
		t.Fatalf("expected 5 exec calls, got %d", len(database.execCalls))
	}
	last := database.execCalls[4].query
	if !strings.Contains(last, "solved_problems") || !strings.Contains(last, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("expected solved marker upsert last, got %q", last)
	}
	for i := 1; i <= 3; i++ {
		args := database.execCalls[i].args
		if args[1] != i {
			t.Fatalf("test case insert %d: expected ordinal %d, got %v", i, i, args[1])
		}
	}
}

func TestCreateWithResultsSkipsMarkerWhenUnsolved(t *testing.T) {
	database := &fakeDatabase{}
	repo := repository.NewSubmissionRepository(database, nil)

	err := repo.CreateWithResults(context.Background(), sampleSubmission(), sampleResults(2), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(database.execCalls) != 3 {
		t.Fatalf("expected 3 exec calls, got %d", len(database.execCalls))
	}
	for _, call := range database.execCalls {
		if strings.Contains(call.query, "solved_problems") {
			t.Fatalf("solved marker must not be written: %q", call.query)
		}
	}
}

func TestCreateWithResultsRollsBackOnFailure(t *testing.T) {
	database := &fakeDatabase{failAtExec: 3}
	repo := repository.NewSubmissionRepository(database, nil)

	err := repo.CreateWithResults(context.Background(), sampleSubmission(), sampleResults(3), true)
	if err == nil {
		t.Fatal("expected error")
	}
	if !database.rolledBack {
		t.Fatal("expected transaction rollback")
	}
	if database.committed {
		t.Fatal("transaction must not commit after a failed write")
	}
}

func TestCreateWithResultsRequiresResults(t *testing.T) {
	database := &fakeDatabase{}
	repo := repository.NewSubmissionRepository(database, nil)

	err := repo.CreateWithResults(context.Background(), sampleSubmission(), nil, false)
	if err == nil {
		t.Fatal("expected error for empty results")
	}
	if len(database.execCalls) != 0 {
		t.Fatalf("expected no exec calls, got %d", len(database.execCalls))
	}
}

func TestGetByIDServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}

	cached := sampleSubmission()
	cached.TestResults = sampleResults(2)
	payload, err := json.Marshal(cached)
	if err != nil {
		t.Fatalf("marshal submission failed: %v", err)
	}
	if err := mr.Set("submission:sub-1", string(payload)); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}

	database := &fakeDatabase{}
	repo := repository.NewSubmissionRepository(database, redisCache)

	submission, err := repo.GetByID(context.Background(), nil, "sub-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if submission.SubmissionID != "sub-1" {
		t.Fatalf("unexpected submission: %+v", submission)
	}
	if len(submission.TestResults) != 2 {
		t.Fatalf("expected 2 cached test results, got %d", len(submission.TestResults))
	}
	if database.queryRows != 0 {
		t.Fatalf("expected no database reads on cache hit, got %d", database.queryRows)
	}
}

func TestGetByIDCachedNullMeansNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	if err := mr.Set("submission:absent", cache.NullCacheValue); err != nil {
		t.Fatalf("seed cache failed: %v", err)
	}

	database := &fakeDatabase{}
	repo := repository.NewSubmissionRepository(database, redisCache)

	_, err = repo.GetByID(context.Background(), nil, "absent")
	if !errors.Is(err, repository.ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
	if database.queryRows != 0 {
		t.Fatalf("expected no database reads, got %d", database.queryRows)
	}
}
