package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"parentpal/internal/model"
)

// LLMConfidence is assigned to any successfully parsed generative result.
// "Trusted but unverified": it is never computed from model internals.
const LLMConfidence = 0.8

const defaultPromptTemplate = `You are an expert at parsing email content to extract event information.

Extract the following information from the email:
- title: Event name/title
- start_date: Start date (YYYY-MM-DD format)
- start_time: Start time (HH:MM format, 24-hour)
- end_date: End date (YYYY-MM-DD format, can be same as start)
- end_time: End time (HH:MM format, 24-hour)
- location: Event location/venue
- prep_items: List of items to bring/prepare

Return ONLY a valid JSON object with these fields. If information is not available, use null.

Email content:
{email_content}
`

// promptPlaceholder marks where the message text is spliced into the
// template. Plain replacement, so templates may contain % or any other
// formatting characters literally.
const promptPlaceholder = "{email_content}"

// GenerativeParser escalates low-confidence messages to a text-generation
// backend with a fixed prompt contract.
type GenerativeParser struct {
	generator TextGenerator
	template  string
	logger    *zap.Logger
}

// NewGenerativeParser loads the prompt template from promptFile when set,
// falling back to the compiled-in default.
func NewGenerativeParser(generator TextGenerator, promptFile string, logger *zap.Logger) *GenerativeParser {
	template := defaultPromptTemplate
	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			logger.Warn("Prompt template not found, using default",
				zap.String("path", promptFile),
				zap.Error(err),
			)
		} else {
			template = string(data)
		}
	}
	if !strings.Contains(template, promptPlaceholder) {
		logger.Warn("Prompt template has no content placeholder, appending one",
			zap.String("placeholder", promptPlaceholder),
		)
		template += "\n\nEmail content:\n" + promptPlaceholder
	}
	return &GenerativeParser{
		generator: generator,
		template:  template,
		logger:    logger,
	}
}

type llmEventReply struct {
	Title     *string  `json:"title"`
	StartDate *string  `json:"start_date"`
	StartTime *string  `json:"start_time"`
	EndDate   *string  `json:"end_date"`
	EndTime   *string  `json:"end_time"`
	Location  *string  `json:"location"`
	PrepItems []string `json:"prep_items"`
}

// Parse sends one completion request and converts the structured reply
// into a candidate event. A reply that is not valid JSON (even after
// repair) is a parse failure, not an error: the caller falls through to
// the review path. Transport errors are returned so the per-message retry
// can act on them.
func (g *GenerativeParser) Parse(ctx context.Context, subject, body string) (*model.CandidateEvent, error) {
	content := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, body)
	prompt := strings.ReplaceAll(g.template, promptPlaceholder, content)

	text, err := g.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	reply, ok := g.decodeReply(text)
	if !ok {
		return nil, nil
	}

	if reply.StartDate == nil || *reply.StartDate == "" {
		g.logger.Warn("Generative reply has no start date, treating as unparseable")
		return nil, nil
	}

	startDate := *reply.StartDate
	startTime := "00:00"
	if reply.StartTime != nil && *reply.StartTime != "" {
		startTime = *reply.StartTime
	}
	endDate := startDate
	if reply.EndDate != nil && *reply.EndDate != "" {
		endDate = *reply.EndDate
	}
	endTime := startTime
	if reply.EndTime != nil && *reply.EndTime != "" {
		endTime = *reply.EndTime
	}

	startTS, err := time.ParseInLocation("2006-01-02 15:04", startDate+" "+startTime, time.UTC)
	if err != nil {
		g.logger.Warn("Generative reply has malformed start timestamp",
			zap.String("start_date", startDate),
			zap.String("start_time", startTime),
		)
		return nil, nil
	}
	endTS, err := time.ParseInLocation("2006-01-02 15:04", endDate+" "+endTime, time.UTC)
	if err != nil {
		endTS = startTS
	}

	title := "Untitled Event"
	if reply.Title != nil && strings.TrimSpace(*reply.Title) != "" {
		title = strings.TrimSpace(*reply.Title)
	}

	candidate := &model.CandidateEvent{
		Title:      title,
		StartTS:    startTS,
		EndTS:      endTS,
		Location:   reply.Location,
		PrepItems:  reply.PrepItems,
		Confidence: LLMConfidence,
	}
	return candidate, nil
}

// decodeReply unmarshals the model output, attempting a repair pass on
// near-JSON before giving up.
func (g *GenerativeParser) decodeReply(text string) (*llmEventReply, bool) {
	var reply llmEventReply
	if err := json.Unmarshal([]byte(text), &reply); err == nil {
		return &reply, true
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		g.logger.Warn("Invalid JSON from model, repair failed",
			zap.String("response", text),
			zap.Error(err),
		)
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
		g.logger.Warn("Invalid JSON from model even after repair",
			zap.String("response", text),
			zap.Error(err),
		)
		return nil, false
	}
	return &reply, true
}
