package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/ingestion"
	"github.com/brand-assistant/backend/internal/middleware/validation"
	"github.com/brand-assistant/backend/internal/models"
	"github.com/brand-assistant/backend/internal/orchestrator"
	storagemodels "github.com/brand-assistant/backend/internal/storage/models"
	"github.com/brand-assistant/backend/internal/vector"
)

type fakeConversation struct {
	got   orchestrator.Message
	reply *orchestrator.Reply
	err   error
}

func (f *fakeConversation) Handle(_ context.Context, msg orchestrator.Message) (*orchestrator.Reply, error) {
	f.got = msg
	return f.reply, f.err
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHandleMessage(t *testing.T) {
	conv := &fakeConversation{reply: &orchestrator.Reply{
		ID:    "turn-1",
		Text:  "Returns within 30 days.",
		State: orchestrator.StateReplied,
		Trace: []orchestrator.State{orchestrator.StateReceived, orchestrator.StateReplied},
		Passages: []models.RetrievedPassage{
			{Chunk: models.Chunk{ID: "c1", SourceURI: "policies.md"}, Score: 0.8},
			{Chunk: models.Chunk{ID: "web_0", SourceURI: "https://news.example"}, Synthetic: true},
		},
	}}
	app := fiber.New()
	app.Post("/messages", validation.Message(validation.Config{}), NewMessageHandler(conv).HandleMessage)

	code, body := do(t, app, "POST", "/messages", `{"user_id":"u1","brand_id":"acme","text":"return policy?"}`)
	require.Equal(t, 200, code)
	assert.Equal(t, orchestrator.Message{UserID: "u1", BrandID: "acme", Text: "return policy?"}, conv.got)
	assert.Equal(t, "Returns within 30 days.", body["response"])
	assert.Equal(t, "REPLIED", body["state"])

	sources := body["sources"].([]interface{})
	require.Len(t, sources, 2)
	assert.Equal(t, "c1", sources[0].(map[string]interface{})["chunk_id"])
	assert.Equal(t, true, sources[1].(map[string]interface{})["web"])
	assert.NotContains(t, sources[1].(map[string]interface{}), "chunk_id")
}

func TestHandleMessageErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", orchestrator.ErrInvalidMessage), 400},
		{fmt.Errorf("%w: \"zeta\"", orchestrator.ErrUnknownBrand), 404},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		app := fiber.New()
		app.Post("/messages", NewMessageHandler(&fakeConversation{err: tt.err}).HandleMessage)
		code, _ := do(t, app, "POST", "/messages", `{"user_id":"u1","brand_id":"zeta","text":"hi"}`)
		assert.Equal(t, tt.want, code, tt.err.Error())
	}
}

type fakeSessions struct {
	deleted []models.SessionKey
	err     error
}

func (f *fakeSessions) Delete(_ context.Context, key models.SessionKey) error {
	f.deleted = append(f.deleted, key)
	return f.err
}

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) GetInteractionHistory(_ context.Context, userID, brandID string, limit int) ([]storagemodels.Interaction, error) {
	f.limit = limit
	return []storagemodels.Interaction{{ID: "i1", UserID: userID, BrandID: brandID, FinalState: "REPLIED"}}, nil
}

func TestSessionHandler(t *testing.T) {
	sessions := &fakeSessions{}
	history := &fakeHistory{}
	h := NewSessionHandler(sessions, history)

	app := fiber.New()
	app.Delete("/brands/:brand/sessions/:user", h.ResetSession)
	app.Get("/brands/:brand/users/:user/history", h.GetHistory)

	code, _ := do(t, app, "DELETE", "/brands/acme/sessions/u1", "")
	assert.Equal(t, 204, code)
	assert.Equal(t, []models.SessionKey{{UserID: "u1", BrandID: "acme"}}, sessions.deleted)

	code, body := do(t, app, "GET", "/brands/acme/users/u1/history?limit=5", "")
	require.Equal(t, 200, code)
	assert.Equal(t, 5, history.limit)
	entries := body["history"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "REPLIED", entries[0].(map[string]interface{})["final_state"])

	code, _ = do(t, app, "GET", "/brands/acme/users/u1/history?limit=500", "")
	assert.Equal(t, 400, code)

	sessions.err = errors.New("redis down")
	code, _ = do(t, app, "DELETE", "/brands/acme/sessions/u1", "")
	assert.Equal(t, 503, code)
}

func TestGetHistoryDisabled(t *testing.T) {
	app := fiber.New()
	app.Get("/history", NewSessionHandler(&fakeSessions{}, nil).GetHistory)
	code, _ := do(t, app, "GET", "/history", "")
	assert.Equal(t, fiber.StatusNotImplemented, code)
}

type fakeIngester struct {
	got models.Document
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, doc models.Document) (*ingestion.Result, error) {
	f.got = doc
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{DocumentID: doc.ID(), BrandID: doc.BrandID, SourceURI: doc.SourceURI, Chunks: 2}, nil
}

func TestUploadDocument(t *testing.T) {
	ing := &fakeIngester{}
	known := func(id string) bool { return id == "acme" }
	app := fiber.New()
	app.Post("/brands/:brand/documents", validation.Document(validation.Config{}), NewDocumentHandler(ing, known).UploadDocument)

	code, body := do(t, app, "POST", "/brands/acme/documents", `{"source_uri":"faq.html","content":"<p>Hi there friend</p>","content_type":"text/html"}`)
	require.Equal(t, 201, code)
	assert.Equal(t, "acme", ing.got.BrandID)
	assert.True(t, ing.got.IsHTML())
	assert.Equal(t, float64(2), body["chunks"])

	code, _ = do(t, app, "POST", "/brands/zeta/documents", `{"source_uri":"faq.md","content":"x"}`)
	assert.Equal(t, 404, code)

	ing.err = fmt.Errorf("%w: down", vector.ErrIndexUnavailable)
	code, _ = do(t, app, "POST", "/brands/acme/documents", `{"source_uri":"faq.md","content":"x"}`)
	assert.Equal(t, 503, code)

	ing.err = ingestion.ErrEmptyDocument
	code, _ = do(t, app, "POST", "/brands/acme/documents", `{"source_uri":"faq.md","content":"x"}`)
	assert.Equal(t, 400, code)
}

type fakeChecker map[string]error

func (f fakeChecker) Ready(context.Context) map[string]error { return f }

func TestReady(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", NewHealthHandler(fakeChecker{"sqlite": nil}).Ready)
	app.Get("/down", NewHealthHandler(fakeChecker{"sqlite": nil, "redis": errors.New("refused")}).Ready)

	code, body := do(t, app, "GET", "/ok", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ready", body["status"])

	code, body = do(t, app, "GET", "/down", "")
	assert.Equal(t, 503, code)
	assert.Equal(t, "refused", body["components"].(map[string]interface{})["redis"])
}

func TestSplitForStreaming(t *testing.T) {
	pieces := splitForStreaming("Available times:\n- Mon 10:00\nBook  here")
	assert.Equal(t, []string{"Available ", "times:", "\n", "- ", "Mon ", "10:00", "\n", "Book ", "here"}, pieces)
	assert.Equal(t, "Available times:\n- Mon 10:00\nBook here", strings.Join(pieces, ""))
}
