package controller

import (
	"strconv"
	"strings"
	"time"

	"arenaoj/internal/common/http/middleware"
	"arenaoj/internal/execution/model"
	"arenaoj/internal/execution/service"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ExecutionController handles execution HTTP endpoints.
type ExecutionController struct {
	executionService *service.ExecutionService
}

// NewExecutionController creates a new ExecutionController.
func NewExecutionController(executionService *service.ExecutionService) *ExecutionController {
	return &ExecutionController{executionService: executionService}
}

// RegisterRoutes wires the execution endpoints onto the given group.
func (h *ExecutionController) RegisterRoutes(group *gin.RouterGroup, auth gin.HandlerFunc) {
	group.POST("/problems/:problem_id/execute", auth, h.Execute)
	group.GET("/submissions/:id", h.GetSubmission)
	group.GET("/submissions/:id/engine-results", h.GetEngineResults)
	group.GET("/languages", h.ListLanguages)
}

// Execute runs the submitted code against the problem's test cases.
func (h *ExecutionController) Execute(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("problem_id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	submission, err := h.executionService.Execute(c.Request.Context(), service.ExecuteInput{
		UserID:          userID,
		ProblemID:       problemID,
		SourceCode:      req.SourceCode,
		Language:        req.Language,
		Stdin:           req.Stdin,
		ExpectedOutputs: req.ExpectedOutputs,
		IdempotencyKey:  idempotencyKey,
		ClientIP:        c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSubmissionResponse(submission))
}

// GetSubmission returns one persisted submission with its test results.
func (h *ExecutionController) GetSubmission(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.executionService.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSubmissionResponse(submission))
}

// GetEngineResults returns the archived raw engine results for a submission.
func (h *ExecutionController) GetEngineResults(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	results, err := h.executionService.EngineResults(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, results)
}

// ListLanguages returns the supported language table.
func (h *ExecutionController) ListLanguages(c *gin.Context) {
	response.Success(c, h.executionService.Languages())
}

// ExecuteRequest defines the execute-code request payload.
type ExecuteRequest struct {
	SourceCode      string   `json:"source_code" binding:"required"`
	Language        string   `json:"language" binding:"required"`
	Stdin           []string `json:"stdin" binding:"required"`
	ExpectedOutputs []string `json:"expected_outputs" binding:"required"`
}

// SubmissionResponse defines the submission response payload.
type SubmissionResponse struct {
	SubmissionID string               `json:"submission_id"`
	UserID       int64                `json:"user_id"`
	ProblemID    int64                `json:"problem_id"`
	Language     string               `json:"language"`
	Status       string               `json:"status"`
	TimeList     string               `json:"time_list"`
	MemoryList   string               `json:"memory_list"`
	CreatedAt    string               `json:"created_at"`
	TestResults  []TestCaseResultItem `json:"test_results"`
}

// TestCaseResultItem defines one test case result payload.
type TestCaseResultItem struct {
	Ordinal       int    `json:"ordinal"`
	Passed        bool   `json:"passed"`
	Stdout        string `json:"stdout"`
	Expected      string `json:"expected"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Status        string `json:"status"`
	TimeUsed      string `json:"time_used"`
	MemoryUsed    string `json:"memory_used"`
}

func newSubmissionResponse(submission *model.Submission) SubmissionResponse {
	resp := SubmissionResponse{
		SubmissionID: submission.SubmissionID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		Language:     submission.Language,
		Status:       string(submission.Status),
		TimeList:     submission.TimeList,
		MemoryList:   submission.MemoryList,
		CreatedAt:    submission.CreatedAt.UTC().Format(time.RFC3339),
		TestResults:  make([]TestCaseResultItem, 0, len(submission.TestResults)),
	}
	for _, result := range submission.TestResults {
		resp.TestResults = append(resp.TestResults, TestCaseResultItem{
			Ordinal:       result.Ordinal,
			Passed:        result.Passed,
			Stdout:        result.Stdout,
			Expected:      result.Expected,
			Stderr:        result.Stderr,
			CompileOutput: result.CompileOutput,
			Status:        result.Status,
			TimeUsed:      result.TimeUsed,
			MemoryUsed:    result.MemoryUsed,
		})
	}
	return resp
}
