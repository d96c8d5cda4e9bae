package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/execution/engine"
	"arenaoj/internal/execution/model"
	"arenaoj/internal/execution/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "execute:idempotency:"
	rateUserKeyPrefix    = "execute:rate:user:"
	rateIPKeyPrefix      = "execute:rate:ip:"
	defaultSourcePrefix  = "submissions"
	processingMarker     = "processing"
)

// BatchSubmitter sends a batch to the execution engine and returns tokens.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, submissions []engine.BatchSubmission) ([]string, error)
}

// ResultWaiter blocks until every token's run is terminal.
type ResultWaiter interface {
	WaitForResults(ctx context.Context, tokens []string) ([]engine.Result, error)
}

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds execution service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	Engine         BatchSubmitter
	Poller         ResultWaiter
	Storage        storage.ObjectStorage
	Cache          cache.Cache
	Events         AcceptedEventPublisher
	Archiver       *ResultArchiver

	SourceBucket    string
	SourceKeyPrefix string
	MaxCodeBytes    int
	IdempotencyTTL  time.Duration
	RateLimit       RateLimitConfig
	Timeouts        TimeoutConfig
}

// ExecutionService orchestrates the execution pipeline: submit the batch,
// wait for terminal results, reconcile verdicts, persist atomically, and
// emit the accepted event.
type ExecutionService struct {
	submissionRepo repository.SubmissionRepository
	engine         BatchSubmitter
	poller         ResultWaiter
	storage        storage.ObjectStorage
	cache          cache.Cache
	events         AcceptedEventPublisher
	archiver       *ResultArchiver

	sourceBucket    string
	sourceKeyPrefix string
	maxCodeBytes    int
	idempotencyTTL  time.Duration
	rateLimit       RateLimitConfig
	timeouts        TimeoutConfig
}

// ExecuteInput describes one execution request.
type ExecuteInput struct {
	UserID          int64
	ProblemID       int64
	SourceCode      string
	Language        string
	Stdin           []string
	ExpectedOutputs []string
	IdempotencyKey  string
	ClientIP        string
}

// NewExecutionService creates a new execution service.
func NewExecutionService(cfg Config) (*ExecutionService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine client is required")
	}
	if cfg.Poller == nil {
		return nil, fmt.Errorf("result poller is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	return &ExecutionService{
		submissionRepo:  cfg.SubmissionRepo,
		engine:          cfg.Engine,
		poller:          cfg.Poller,
		storage:         cfg.Storage,
		cache:           cfg.Cache,
		events:          cfg.Events,
		archiver:        cfg.Archiver,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: cfg.SourceKeyPrefix,
		maxCodeBytes:    cfg.MaxCodeBytes,
		idempotencyTTL:  cfg.IdempotencyTTL,
		rateLimit:       cfg.RateLimit,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Execute runs the full pipeline for one submission. Stages are strictly
// sequential; any fatal stage error aborts the run with nothing persisted.
func (s *ExecutionService) Execute(ctx context.Context, input ExecuteInput) (*model.Submission, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	languageCode, err := engine.LanguageCode(input.Language)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		return s.GetSubmission(ctx, existingID)
	}

	submission, err := s.runPipeline(ctx, input, languageCode)
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return nil, err
	}
	s.finalizeIdempotency(ctx, input.IdempotencyKey, submission.SubmissionID, acquired)
	return submission, nil
}

func (s *ExecutionService) runPipeline(ctx context.Context, input ExecuteInput, languageCode int) (*model.Submission, error) {
	batch := make([]engine.BatchSubmission, 0, len(input.Stdin))
	for i, stdin := range input.Stdin {
		batch = append(batch, engine.BatchSubmission{
			SourceCode:     input.SourceCode,
			LanguageID:     languageCode,
			Stdin:          stdin,
			ExpectedOutput: input.ExpectedOutputs[i],
		})
	}

	tokens, err := s.engine.SubmitBatch(ctx, batch)
	if err != nil {
		return nil, wrapStageErr(err, input, "submit batch")
	}
	results, err := s.poller.WaitForResults(ctx, tokens)
	if err != nil {
		return nil, wrapStageErr(err, input, "wait for results")
	}
	outcome, err := reconcile(results, input.ExpectedOutputs)
	if err != nil {
		// Compilation errors leave no submission history on purpose.
		return nil, wrapStageErr(err, input, "reconcile verdicts")
	}

	submission, testResults := s.buildSubmission(input, outcome)
	if err := s.uploadSource(ctx, submission.SourceKey, input.SourceCode); err != nil {
		return nil, wrapStageErr(err, input, "upload source")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.CreateWithResults(ctxDB.ctx, submission, testResults, outcome.AllPassed); err != nil {
		return nil, appErr.Wrapf(err, appErr.TransactionFailed, "persist submission failed").
			WithDetail("user_id", input.UserID).
			WithDetail("problem_id", input.ProblemID)
	}

	s.archiveResults(ctx, submission.SubmissionID, results)
	if outcome.AllPassed {
		s.publishAccepted(ctx, submission)
	}
	return submission, nil
}

// GetSubmission returns a persisted submission with its test results.
func (s *ExecutionService) GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

// Languages returns the supported language set.
func (s *ExecutionService) Languages() []engine.Language {
	return engine.SupportedLanguages()
}

// EngineResults loads the archived raw engine results for a submission.
func (s *ExecutionService) EngineResults(ctx context.Context, submissionID string) ([]engine.Result, error) {
	if s.archiver == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("result archive is not configured")
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	return s.archiver.Load(ctxStorage.ctx, submissionID)
}

// validateInput is the sole pre-flight validation; it runs before any
// network I/O so malformed requests never reach the engine.
func (s *ExecutionService) validateInput(input ExecuteInput) error {
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if s.maxCodeBytes > 0 && len(input.SourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	if strings.TrimSpace(input.Language) == "" {
		return appErr.ValidationError("language", "required")
	}
	if len(input.Stdin) == 0 {
		return appErr.ValidationError("stdin", "required")
	}
	if len(input.Stdin) != len(input.ExpectedOutputs) {
		return appErr.Newf(appErr.ValidationFailed,
			"stdin has %d entries but expected_outputs has %d", len(input.Stdin), len(input.ExpectedOutputs))
	}
	return nil
}

func (s *ExecutionService) buildSubmission(input ExecuteInput, outcome ReconcileOutcome) (*model.Submission, []*model.TestCaseResult) {
	submissionID := uuid.NewString()
	timeList := make([]string, 0, len(outcome.Verdicts))
	memoryList := make([]string, 0, len(outcome.Verdicts))
	outputLog := make([]outputEntry, 0, len(outcome.Verdicts))
	testResults := make([]*model.TestCaseResult, 0, len(outcome.Verdicts))

	for _, verdict := range outcome.Verdicts {
		timeList = append(timeList, verdict.TimeUsed)
		memoryList = append(memoryList, verdict.MemoryUsed)
		outputLog = append(outputLog, outputEntry{
			Stdout:        verdict.Stdout,
			Stderr:        verdict.Stderr,
			CompileOutput: verdict.CompileOutput,
		})
		testResults = append(testResults, &model.TestCaseResult{
			SubmissionID:  submissionID,
			Ordinal:       verdict.Ordinal,
			Passed:        verdict.Passed,
			Stdout:        verdict.Stdout,
			Expected:      verdict.Expected,
			Stderr:        verdict.Stderr,
			CompileOutput: verdict.CompileOutput,
			Status:        string(verdict.Status),
			TimeUsed:      verdict.TimeUsed,
			MemoryUsed:    verdict.MemoryUsed,
		})
	}

	submission := &model.Submission{
		SubmissionID: submissionID,
		UserID:       input.UserID,
		ProblemID:    input.ProblemID,
		Language:     strings.ToLower(strings.TrimSpace(input.Language)),
		SourceCode:   input.SourceCode,
		SourceKey:    fmt.Sprintf("%s/%s/source.code", s.sourceKeyPrefix, submissionID),
		Status:       outcome.Aggregate,
		TimeList:     marshalStrings(timeList),
		MemoryList:   marshalStrings(memoryList),
		OutputLog:    marshalOutputLog(outputLog),
		CreatedAt:    time.Now(),
	}
	return submission, testResults
}

func (s *ExecutionService) uploadSource(ctx context.Context, objectKey, source string) error {
	reader := io.NopCloser(strings.NewReader(source))
	defer reader.Close()
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, objectKey, reader, int64(len(source)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload source failed")
	}
	return nil
}

// archiveResults is best-effort; a failed archive never fails the request.
func (s *ExecutionService) archiveResults(ctx context.Context, submissionID string, results []engine.Result) {
	if s.archiver == nil {
		return
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.archiver.Archive(ctxStorage.ctx, submissionID, results); err != nil {
		logger.Warn(ctx, "archive engine results failed",
			zap.String("submission_id", submissionID),
			zap.Error(err),
		)
	}
}

// publishAccepted is best-effort; event bus trouble is logged, never thrown.
func (s *ExecutionService) publishAccepted(ctx context.Context, submission *model.Submission) {
	if s.events == nil {
		return
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	event := AcceptedEvent{
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		SubmissionID: submission.SubmissionID,
	}
	if err := s.events.PublishAccepted(ctxMQ.ctx, event); err != nil {
		logger.Warn(ctx, "publish accepted event failed",
			zap.String("submission_id", submission.SubmissionID),
			zap.Error(err),
		)
	}
}

func (s *ExecutionService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ttl := s.idempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, ttl)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *ExecutionService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	if !acquired || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ttl := s.idempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, cacheKey, submissionID, ttl); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *ExecutionService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if !acquired || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *ExecutionService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+fmt.Sprintf("%d", userID), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExecutionService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

type outputEntry struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
}

func marshalStrings(values []string) string {
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func marshalOutputLog(entries []outputEntry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// wrapStageErr attaches request context to a stage error without losing the
// typed code.
func wrapStageErr(err error, input ExecuteInput, stage string) error {
	appError := appErr.GetError(err)
	return appError.
		WithDetail("stage", stage).
		WithDetail("user_id", input.UserID).
		WithDetail("problem_id", input.ProblemID)
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
