package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// StripFence removes a leading/trailing markdown code fence from an LLM
// response. Models regularly wrap JSON in ```json blocks despite being told
// not to.
func StripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	start := 1
	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// DecodeJSON strips fences and unmarshals into out. If the payload is not
// valid JSON it attempts a repair pass before giving up.
func DecodeJSON(text string, out any) error {
	cleaned := StripFence(text)
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr != nil {
		// Report the original decode failure, not the repair failure.
		return json.Unmarshal([]byte(cleaned), out)
	}
	return json.Unmarshal([]byte(repaired), out)
}
