package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brand-assistant/backend/internal/models"
)

func TestAcceptLeadField(t *testing.T) {
	tests := []struct {
		stage models.LeadStage
		input string
		ok    bool
		want  models.Lead
	}{
		{models.LeadStageName, "  Ana   Pérez ", true, models.Lead{Name: "Ana Pérez"}},
		{models.LeadStageName, "Al", false, models.Lead{}},
		{models.LeadStagePurpose, "demo", true, models.Lead{Purpose: "demo"}},
		{models.LeadStagePurpose, "ok", false, models.Lead{}},
		{models.LeadStageEmail, "Ana@Example.COM", true, models.Lead{Email: "ana@example.com"}},
		{models.LeadStageEmail, "Ana <ana@example.com>", true, models.Lead{Email: "ana@example.com"}},
		{models.LeadStageEmail, "ana@localhost", false, models.Lead{}},
		{models.LeadStageEmail, "my email is ana", false, models.Lead{}},
		{models.LeadStagePhone, "+56 9 1234-5678", true, models.Lead{Phone: "+56912345678"}},
		{models.LeadStagePhone, "(555) 123-4567", true, models.Lead{Phone: "5551234567"}},
		{models.LeadStagePhone, "1234567", false, models.Lead{}},
		{models.LeadStagePhone, "1234567890123456", false, models.Lead{}},
		{models.LeadStagePhone, "88888888", false, models.Lead{}},
		{models.LeadStagePhone, "call me at 5551234567", false, models.Lead{}},
		{models.LeadStage("unknown"), "anything", false, models.Lead{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage)+"/"+tt.input, func(t *testing.T) {
			var lead models.Lead
			assert.Equal(t, tt.ok, acceptLeadField(&lead, tt.stage, tt.input))
			assert.Equal(t, tt.want, lead)
		})
	}
}

func TestLeadPromptsCoverEveryStage(t *testing.T) {
	for _, stage := range []models.LeadStage{models.LeadStageName, models.LeadStagePurpose, models.LeadStageEmail, models.LeadStagePhone} {
		assert.NotEmpty(t, leadPrompts[stage], stage)
		assert.NotEmpty(t, leadRetryPrompts[stage], stage)
	}
}
