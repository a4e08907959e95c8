package services

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type QuestionType string

const (
	QuestionTypeMCQ QuestionType = "MCQ"
	QuestionTypeSAQ QuestionType = "SAQ"
)

// AnalysisRequest is one "analyse question X with model M" call.
type AnalysisRequest struct {
	QuestionID     string       `json:"questionId" binding:"required"`
	QuestionText   string       `json:"question" binding:"required"`
	Options        []string     `json:"options"`
	OfficialAnswer string       `json:"officialAnswer"`
	QuestionType   QuestionType `json:"questionType" binding:"required"`
	ModelID        string       `json:"modelId" binding:"required"`
}

// maxIDLength matches the width of the question_id and model_id columns.
const maxIDLength = 128

func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.QuestionID) == "" {
		return fmt.Errorf("questionId is required")
	}
	if strings.TrimSpace(r.QuestionText) == "" {
		return fmt.Errorf("question is required")
	}
	if strings.TrimSpace(r.ModelID) == "" {
		return fmt.Errorf("modelId is required")
	}
	if utf8.RuneCountInString(r.QuestionID) > maxIDLength {
		return fmt.Errorf("questionId must be at most %d characters", maxIDLength)
	}
	if utf8.RuneCountInString(r.ModelID) > maxIDLength {
		return fmt.Errorf("modelId must be at most %d characters", maxIDLength)
	}
	switch r.QuestionType {
	case QuestionTypeMCQ:
		if len(r.Options) == 0 {
			return fmt.Errorf("options are required for MCQ questions")
		}
	case QuestionTypeSAQ:
	default:
		return fmt.Errorf("questionType must be MCQ or SAQ")
	}
	return nil
}

const analysisSystemInstruction = `You are an experienced exam tutor. Explain questions from a question bank
clearly and accurately. Structure the answer with the headings "Answer",
"Explanation" and "Key points". When an official answer is given and you
disagree with it, say so and explain why.`

// BuildAnalysisPrompt renders the user prompt sent to the model.
func BuildAnalysisPrompt(req AnalysisRequest) string {
	var b strings.Builder

	switch req.QuestionType {
	case QuestionTypeMCQ:
		b.WriteString("Analyse the following multiple choice question.\n\n")
	default:
		b.WriteString("Analyse the following short answer question.\n\n")
	}

	b.WriteString("<Question>\n")
	b.WriteString(strings.TrimSpace(req.QuestionText))
	b.WriteString("\n</Question>\n")

	if len(req.Options) > 0 {
		b.WriteString("<Options>\n")
		for i, opt := range req.Options {
			fmt.Fprintf(&b, "%s. %s\n", optionLabel(i), strings.TrimSpace(opt))
		}
		b.WriteString("</Options>\n")
	}

	if answer := strings.TrimSpace(req.OfficialAnswer); answer != "" {
		b.WriteString("<OfficialAnswer>\n")
		b.WriteString(answer)
		b.WriteString("\n</OfficialAnswer>\n")
	}

	return b.String()
}

// optionLabel maps 0 -> A, 25 -> Z, 26 -> AA.
func optionLabel(i int) string {
	label := ""
	for i >= 0 {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
	}
	return label
}
