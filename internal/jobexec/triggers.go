package jobexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agentcore/internal/jobstore"
)

// maxWebhookBody caps how much of a response we keep as output.
const maxWebhookBody = 1 << 20 // 1 MiB

func (e *Executor) runToolCall(ctx context.Context, job jobstore.JobDefinition) (string, error) {
	if e.deps.Tools == nil {
		return "", fmt.Errorf("tool capability not configured")
	}
	res, err := e.deps.Tools.Execute(ctx, job.Trigger.Tool, job.Trigger.Args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", job.Trigger.Tool, err)
	}
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return "", fmt.Errorf("tool %s: %s", job.Trigger.Tool, msg)
	}
	if res.Data == nil {
		return "", nil
	}
	if s, ok := res.Data.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprint(res.Data), nil
	}
	return string(data), nil
}

func (e *Executor) runWebhook(ctx context.Context, job jobstore.JobDefinition) (string, error) {
	t := job.Trigger
	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if t.Body != "" {
		body = strings.NewReader(t.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.URL, body)
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	if t.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.deps.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return "", fmt.Errorf("webhook: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook %s returned status %d", t.URL, resp.StatusCode)
	}

	// JSON responses are parsed (and re-encoded compactly); everything
	// else is returned as text.
	trimmed := strings.TrimSpace(string(raw))
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		if compact, err := json.Marshal(parsed); err == nil {
			return string(compact), nil
		}
	}
	return trimmed, nil
}
