package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageApp() *fiber.App {
	app := fiber.New()
	app.Post("/messages", Message(Config{MaxMessageLength: 10}), func(c *fiber.Ctx) error {
		req, ok := MessageFrom(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(req)
	})
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(respBody)
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantBody string
	}{
		{"valid", `{"user_id":"+573001234567","brand_id":"acme","text":"  hi\u0000 "}`, 200, `"text":"hi"`},
		{"bad json", `{`, 400, "Invalid JSON"},
		{"missing user", `{"brand_id":"acme","text":"hi"}`, 400, "user_id"},
		{"bad brand", `{"user_id":"u1","brand_id":"../etc","text":"hi"}`, 400, "brand_id"},
		{"empty text", `{"user_id":"u1","brand_id":"acme","text":"   "}`, 400, "text is required"},
		{"too long", `{"user_id":"u1","brand_id":"acme","text":"ñññññññññññ"}`, 400, "maximum length"},
	}

	app := messageApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := post(t, app, "/messages", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, body, tt.wantBody)
		})
	}
}

func TestDocument(t *testing.T) {
	app := fiber.New()
	app.Post("/brands/:brand/documents", Document(Config{MaxDocumentSize: 64}), func(c *fiber.Ctx) error {
		req, _ := DocumentFrom(c)
		return c.SendString(req.BrandID + " " + req.SourceURI)
	})

	code, body := post(t, app, "/brands/acme/documents", `{"source_uri":"https://acme.example/faq","content":"Returns within 30 days."}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, "acme https://acme.example/faq", body)

	code, _ = post(t, app, "/brands/acme/documents", `{"source_uri":"policies/returns.md","content":"ok"}`)
	assert.Equal(t, 200, code)

	code, _ = post(t, app, "/brands/acme/documents", `{"source_uri":"ftp://acme.example/x","content":"ok"}`)
	assert.Equal(t, 400, code)

	code, _ = post(t, app, "/brands/acme/documents", `{"source_uri":"../secret","content":"ok"}`)
	assert.Equal(t, 400, code)

	code, _ = post(t, app, "/brands/acme/documents", `{"source_uri":"a.md","content":"`+strings.Repeat("x", 65)+`"}`)
	assert.Equal(t, 413, code)
}

func TestContentType(t *testing.T) {
	app := fiber.New()
	app.Use(ContentType(Config{}))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest("POST", "/", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/xml")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	req = httptest.NewRequest("POST", "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
