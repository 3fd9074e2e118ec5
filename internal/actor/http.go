package actor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cycle-scheduler/internal/models"
)

const maxReplyBytes = 64 * 1024

// HTTPGateway posts each job to a webhook that performs the effect and
// answers {"success": bool, "error": string}.
type HTTPGateway struct {
	url    string
	token  string
	client *http.Client
}

// executeRequest is the body sent to the webhook.
type executeRequest struct {
	WorkItemID    string         `json:"work_item_id"`
	AccountID     string         `json:"account_id"`
	CredentialRef string         `json:"credential_ref,omitempty"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	TargetRef     string         `json:"target_ref,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewHTTPGateway builds a webhook gateway. Timeouts come from the caller's
// context (see WithTimeout); the client itself has none.
func NewHTTPGateway(url, token string) *HTTPGateway {
	return &HTTPGateway{
		url:    url,
		token:  token,
		client: &http.Client{},
	}
}

// Execute never returns an error value: transport problems become failed results.
func (g *HTTPGateway) Execute(ctx context.Context, job models.Job) models.Result {
	body, err := json.Marshal(executeRequest{
		WorkItemID:    job.WorkItem.ID,
		AccountID:     job.Account.ID,
		CredentialRef: job.Account.CredentialRef,
		ScheduledAt:   job.WorkItem.ScheduledAt,
		TargetRef:     job.WorkItem.TargetRef,
		Payload:       job.WorkItem.Payload,
	})
	if err != nil {
		return Failure(fmt.Sprintf("encode job: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Failure(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", job.WorkItem.ID)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Failure(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Failure(fmt.Sprintf("read reply: %v", err))
	}

	var reply models.Result
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode >= http.StatusBadRequest {
		if decodeErr == nil && reply.Error != "" {
			return Failure(reply.Error)
		}
		return Failure(fmt.Sprintf("actor returned %s", resp.Status))
	}
	if decodeErr != nil {
		return Failure(fmt.Sprintf("decode reply: %v", decodeErr))
	}
	if !reply.Success && strings.TrimSpace(reply.Error) == "" {
		reply.Error = "actor reported failure without detail"
	}
	return reply
}
