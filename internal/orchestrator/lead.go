package orchestrator

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/brand-assistant/backend/internal/metrics"
	"github.com/brand-assistant/backend/internal/models"
	storagemodels "github.com/brand-assistant/backend/internal/storage/models"
)

// LeadSink stores completed leads.
type LeadSink interface {
	SaveLead(ctx context.Context, lead *storagemodels.Lead) error
}

const (
	minNameChars    = 3
	minPurposeChars = 3
	minPhoneDigits  = 8
	maxPhoneDigits  = 15
)

var leadPrompts = map[models.LeadStage]string{
	models.LeadStageName:    "Happy to set up a meeting. First, what is your full name?",
	models.LeadStagePurpose: "What would you like to talk about in the meeting?",
	models.LeadStageEmail:   "What email address should we use to reach you?",
	models.LeadStagePhone:   "And a phone number where we can reach you, with the country code?",
}

var leadRetryPrompts = map[models.LeadStage]string{
	models.LeadStageName:    "Please tell me your full name (at least 3 characters).",
	models.LeadStagePurpose: "Please tell me briefly what the meeting is about (at least 3 characters).",
	models.LeadStageEmail:   "That does not look like a valid email address. Could you check it and send it again?",
	models.LeadStagePhone:   "That does not look like a valid phone number. Please send it with 8 to 15 digits.",
}

// acceptLeadField validates input for stage and stores the cleaned value on lead.
func acceptLeadField(lead *models.Lead, stage models.LeadStage, input string) bool {
	input = strings.Join(strings.Fields(input), " ")
	switch stage {
	case models.LeadStageName:
		if utf8.RuneCountInString(input) < minNameChars {
			return false
		}
		lead.Name = input
	case models.LeadStagePurpose:
		if utf8.RuneCountInString(input) < minPurposeChars {
			return false
		}
		lead.Purpose = input
	case models.LeadStageEmail:
		email, ok := normalizeEmail(input)
		if !ok {
			return false
		}
		lead.Email = email
	case models.LeadStagePhone:
		phone, ok := normalizePhone(input)
		if !ok {
			return false
		}
		lead.Phone = phone
	default:
		return false
	}
	return true
}

func normalizeEmail(s string) (string, bool) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 1 {
		return "", false
	}
	domain := addr.Address[at+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// normalizePhone keeps the digits and a leading plus sign. Numbers made of one
// repeated digit are rejected.
func normalizePhone(s string) (string, bool) {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case unicode.IsSpace(r) || strings.ContainsRune("+-().", r):
		default:
			return "", false
		}
	}
	d := digits.String()
	if len(d) < minPhoneDigits || len(d) > maxPhoneDigits {
		return "", false
	}
	if strings.Count(d, d[:1]) == len(d) {
		return "", false
	}
	if strings.HasPrefix(strings.TrimSpace(s), "+") {
		return "+" + d, true
	}
	return d, true
}

// startLeadCollection asks for the first missing contact field instead of
// answering the scheduling request.
func (e *Engine) startLeadCollection(ctx context.Context, t *turn) {
	t.enter(StateCollectingLead)
	stage := t.session.Lead.Missing()
	t.session.LeadStage = stage
	t.log.Info("Lead collection started", zap.String("stage", string(stage)))
	e.replyDirect(ctx, t, leadPrompts[stage])
}

// collectLead consumes one answer. Invalid input repeats the question for the
// same field; the last field completes the lead and proposes a meeting.
func (e *Engine) collectLead(ctx context.Context, t *turn) {
	t.enter(StateCollectingLead)
	sess := t.session
	stage := sess.LeadStage

	if !acceptLeadField(&sess.Lead, stage, t.msg.Text) {
		t.log.Debug("Lead field rejected", zap.String("stage", string(stage)))
		e.replyDirect(ctx, t, leadRetryPrompts[stage])
		return
	}

	next := sess.Lead.Missing()
	sess.LeadStage = next
	if next != "" {
		text := leadPrompts[next]
		if stage == models.LeadStageName {
			text = fmt.Sprintf("Thanks, %s! %s", sess.Lead.FirstName(), text)
		}
		e.replyDirect(ctx, t, text)
		return
	}

	e.recordLead(ctx, t)
	text := fmt.Sprintf("Thank you, %s! Your details are saved.", sess.Lead.FirstName())
	if proposal := e.proposeMeeting(ctx, t); proposal != "" {
		text += "\n\n" + proposal
	}
	e.replyDirect(ctx, t, text)
}

func (e *Engine) recordLead(ctx context.Context, t *turn) {
	metrics.LeadsCaptured.WithLabelValues(t.msg.BrandID).Inc()
	t.log.Info("Lead captured")
	if e.deps.Leads == nil {
		return
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	now := e.now()
	lead := t.session.Lead
	err := e.deps.Leads.SaveLead(lctx, &storagemodels.Lead{
		UserID:    t.msg.UserID,
		BrandID:   t.msg.BrandID,
		Name:      lead.Name,
		Purpose:   lead.Purpose,
		Email:     lead.Email,
		Phone:     lead.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.log.Warn("Failed to save lead", zap.Error(err))
	}
}
