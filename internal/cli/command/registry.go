package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "exec",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:problem_id/execute",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "stdin", Prompt: "stdin (comma-separated or JSON array)", Type: FieldStringList, Required: true},
				{Name: "expected_outputs", Aliases: []string{"expected"}, Prompt: "expected_outputs (comma-separated or JSON array)", Type: FieldStringList, Required: true},
				{Name: "idempotency_key", Prompt: "idempotency_key", Type: FieldString, Required: false},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, Required: false},
				{Name: "stdin_file", Prompt: "stdin_file", Type: FieldFile, Required: false},
				{Name: "expected_file", Prompt: "expected_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "submission",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submission",
			Action:       "engine-results",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/engine-results",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "exec",
			Action:       "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
			RequiresAuth: false,
			Fields:       []Field{},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	if cmd.Service == "exec" && cmd.Action == "run" {
		headers["Idempotency-Key"] = params.Get("idempotency_key")
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"problem_id", "id"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, value)
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service == "exec" && cmd.Action == "run" {
		return buildExecuteRunPayload(params)
	}
	return nil, nil
}

func buildExecuteRunPayload(params Params) (interface{}, error) {
	sourceCode := params.Get("source_code")
	if (sourceCode == "" || sourceCode == "_file_") && params.Get("source_file") != "" {
		data, err := ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
		sourceCode = data
	}
	if sourceCode == "" {
		return nil, fmt.Errorf("source_code is required")
	}

	stdin, err := parseListOrFile(params, "stdin", "stdin_file")
	if err != nil {
		return nil, err
	}
	expectedOutputs, err := parseListOrFile(params, "expected_outputs", "expected_file")
	if err != nil {
		return nil, err
	}
	if len(stdin) != len(expectedOutputs) {
		return nil, fmt.Errorf("stdin has %d entries but expected_outputs has %d", len(stdin), len(expectedOutputs))
	}

	return map[string]interface{}{
		"language":         params.Get("language"),
		"source_code":      sourceCode,
		"stdin":            stdin,
		"expected_outputs": expectedOutputs,
	}, nil
}

func parseListOrFile(params Params, key, fileKey string) ([]string, error) {
	value := params.Get(key)
	if (value == "" || value == "_file_") && params.Get(fileKey) != "" {
		data, err := ReadFile(params.Get(fileKey))
		if err != nil {
			return nil, err
		}
		value = data
	}
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	items, err := ParseStringArray(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return items, nil
}
