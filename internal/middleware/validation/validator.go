// Package validation rejects malformed API payloads before they reach a handler
// and hands the cleaned request on through fiber locals.
package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/vector"
)

const (
	localsMessage  = "validated_message"
	localsDocument = "validated_document"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9+][A-Za-z0-9_.:@+\-]{0,127}$`)

type Config struct {
	// MaxMessageLength is counted in characters.
	MaxMessageLength    int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 4000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

type MessageRequest struct {
	UserID  string `json:"user_id"`
	BrandID string `json:"brand_id"`
	Text    string `json:"text"`
}

type DocumentRequest struct {
	BrandID     string            `json:"-"`
	SourceURI   string            `json:"source_uri"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata"`
}

// ContentType rejects request bodies of types the API does not accept.
func ContentType(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}
		contentType := c.Get(fiber.HeaderContentType)
		if contentType == "" {
			return c.Next()
		}
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.Contains(contentType, allowed) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}

// Message validates a chat message body. Handlers read it back with MessageFrom.
func Message(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()
	return func(c *fiber.Ctx) error {
		var req MessageRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		req.UserID = strings.TrimSpace(req.UserID)
		req.Text = sanitizeString(req.Text)

		if !userIDPattern.MatchString(req.UserID) {
			return badRequest(c, "user_id is required and may only contain letters, digits and _.:@+-")
		}
		if err := vector.ValidateBrand(req.BrandID); err != nil {
			return badRequest(c, "brand_id is invalid")
		}
		if req.Text == "" {
			return badRequest(c, "text is required")
		}
		if utf8.RuneCountInString(req.Text) > cfg.MaxMessageLength {
			cfg.Logger.Warn("Message too long",
				zap.String("ip", c.IP()),
				zap.String("user_id", req.UserID),
				zap.Int("length", utf8.RuneCountInString(req.Text)),
			)
			return badRequest(c, "text exceeds maximum length")
		}

		c.Locals(localsMessage, req)
		return c.Next()
	}
}

// Document validates an ingestion body for the :brand route parameter.
func Document(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()
	return func(c *fiber.Ctx) error {
		var req DocumentRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
		req.BrandID = c.Params("brand")
		req.SourceURI = strings.TrimSpace(req.SourceURI)

		if err := vector.ValidateBrand(req.BrandID); err != nil {
			return badRequest(c, "brand is invalid")
		}
		if !isValidSource(req.SourceURI) {
			return badRequest(c, "source_uri must be an http(s) URL or a relative path")
		}
		if strings.TrimSpace(req.Content) == "" {
			return badRequest(c, "content is required")
		}
		if len(req.Content) > cfg.MaxDocumentSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Document content exceeds maximum size",
			})
		}

		c.Locals(localsDocument, req)
		return c.Next()
	}
}

func MessageFrom(c *fiber.Ctx) (MessageRequest, bool) {
	req, ok := c.Locals(localsMessage).(MessageRequest)
	return req, ok
}

func DocumentFrom(c *fiber.Ctx) (DocumentRequest, bool) {
	req, ok := c.Locals(localsDocument).(DocumentRequest)
	return req, ok
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// sanitizeString trims and drops control characters other than newlines and tabs.
func sanitizeString(input string) string {
	input = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(input)
}

func isValidSource(source string) bool {
	if source == "" || len(source) > 2048 {
		return false
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return !strings.Contains(source, "..")
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
