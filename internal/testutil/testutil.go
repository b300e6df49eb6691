// Package testutil provides shared helpers for support agent tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Inbound builds a valid inbound canonical message.
func Inbound(platform models.Platform, user, externalID, text string) models.CanonicalMessage {
	return models.CanonicalMessage{
		ExternalID:     externalID,
		Platform:       platform,
		PlatformUserID: user,
		Direction:      models.DirectionIn,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}
}

// SeedConversation creates a conversation for (platform, user) and commits
// texts as alternating inbound and outbound messages, starting inbound.
func SeedConversation(t TB, st store.Store, platform models.Platform, user string, texts ...string) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := st.LoadConversation(ctx, platform, user)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if len(texts) == 0 {
		return conv
	}

	msgs := make([]models.Message, 0, len(texts))
	for i, text := range texts {
		dir := models.DirectionIn
		if i%2 == 1 {
			dir = models.DirectionOut
		}
		msgs = append(msgs, models.Message{
			ExternalID: fmt.Sprintf("seed-%s-%d", user, i),
			Platform:   platform,
			Direction:  dir,
			Text:       text,
			Timestamp:  time.Now().UTC(),
		})
	}
	res, err := st.CommitRun(ctx, store.CommitRequest{
		ConversationID:  conv.ID,
		ExpectedVersion: conv.Version,
		Messages:        msgs,
	})
	if err != nil {
		t.Fatalf("seed messages: %v", err)
	}
	return &res.Conversation
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the response envelope and checks its status.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return resp
	}
	if resp.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, resp.Status, resp.Message)
	}
	return resp
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// AssertMessageCount checks how many messages a conversation holds.
func AssertMessageCount(t TB, st store.Store, conversationID string, expected int, context string) {
	t.Helper()
	msgs, err := st.ListMessages(contextBackground(), conversationID, 1000, 0)
	if err != nil {
		t.Fatalf("%s: failed to list messages: %v", context, err)
		return
	}
	if len(msgs) != expected {
		t.Errorf("%s: expected %d messages, got %d", context, expected, len(msgs))
	}
}

// WaitFor polls cond until it holds or the timeout elapses.
func WaitFor(t TB, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

func contextBackground() context.Context { return context.Background() }
