package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ResolveTaskPrompt implements the task-input contract (spec §6): input may
// be a literal prompt, a path to a .md file (trimmed), or a path to a .json
// file holding a string or an object with one of task/description/prompt,
// possibly nested under "task".
func ResolveTaskPrompt(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	switch {
	case strings.HasSuffix(trimmed, ".md"):
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return "", fmt.Errorf("read task file %s: %w", trimmed, err)
		}
		return strings.TrimSpace(string(data)), nil
	case strings.HasSuffix(trimmed, ".json"):
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return "", fmt.Errorf("read task file %s: %w", trimmed, err)
		}
		return parseTaskJSON(data)
	default:
		return trimmed, nil
	}
}

func parseTaskJSON(data []byte) (string, error) {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return strings.TrimSpace(asString), nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(data, &asObject); err != nil {
		return "", fmt.Errorf("parse task json: %w", err)
	}
	if task, ok := asObject["task"]; ok {
		var nested string
		if err := json.Unmarshal(task, &nested); err == nil {
			return strings.TrimSpace(nested), nil
		}
		return parseTaskJSON(task)
	}
	for _, key := range []string{"description", "prompt"} {
		if raw, ok := asObject[key]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return strings.TrimSpace(s), nil
			}
		}
	}
	return "", fmt.Errorf("task json: no task/description/prompt field")
}
