package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Claude translates by running the claude CLI in print mode and reading its
// stream-json output.
type Claude struct {
	Path  string
	Model string
}

func (c *Claude) Translate(ctx context.Context, req Request) (string, error) {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--system-prompt", systemPrompt(req),
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	args = append(args, req.Text)

	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = filteredEnv()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start claude: %w", err)
	}

	var result string
	var streamed strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		text, final, ok := parseLine(line)
		if !ok {
			continue
		}
		if final != "" {
			result = final
		}
		streamed.WriteString(text)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// The CLI often reports errors in the result event rather than stderr.
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = result
		}
		return "", fmt.Errorf("claude exited: %w: %s", err, detail)
	}

	if result == "" {
		result = streamed.String()
	}
	return cleanOutput(result)
}

// filteredEnv drops CLAUDE* variables so a nested CLI does not inherit the
// parent session.
func filteredEnv() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		if !strings.HasPrefix(kv, "CLAUDE") {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// parseLine extracts assistant text and/or the final result from one stream-json event.
func parseLine(line []byte) (text, result string, ok bool) {
	var ev struct {
		Type    string          `json:"type"`
		Result  *string         `json:"result"`
		Message json.RawMessage `json:"message"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(line, &ev); err != nil {
		return "", "", false
	}

	switch ev.Type {
	case "assistant":
		content := ev.Content
		if len(ev.Message) > 0 {
			var msg struct {
				Content json.RawMessage `json:"content"`
			}
			if err := json.Unmarshal(ev.Message, &msg); err == nil && len(msg.Content) > 0 {
				content = msg.Content
			}
		}
		return assistantText(content), "", true
	case "result":
		if ev.Result == nil {
			return "", "", false
		}
		return "", *ev.Result, true
	}
	return "", "", false
}

func assistantText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
