package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"questionbank_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/samber/lo"
)

// statementLimit caps the rows printed on one statement.
const statementLimit = 500

type StatementService struct {
	profiles ProfileStore
	usage    UsageLogDB
}

func NewStatementService(profiles ProfileStore, usage UsageLogDB) *StatementService {
	return &StatementService{profiles: profiles, usage: usage}
}

// WriteStatement renders the user's usage log as a PDF into w.
func (s *StatementService) WriteStatement(ctx context.Context, userID uuid.UUID, now time.Time, w io.Writer) error {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	logs, err := s.usage.ListUsage(ctx, userID, statementLimit)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Usage statement", false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Usage statement")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", userID))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Tier: %s (%s)", profile.SubscriptionTier, profile.SubscriptionStatus))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Balance: %.6f", profile.CreditBalance))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", now.UTC().Format(time.RFC3339)))
	pdf.Ln(10)

	widths := []float64{36, 40, 40, 34, 20, 20}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range []string{"Date", "Question", "Model", "Source", "Tokens", "Charged"} {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range logs {
		cells := []string{
			row.CreatedAt.UTC().Format("2006-01-02 15:04"),
			truncate(row.QuestionID, 22),
			truncate(row.ModelID, 22),
			string(row.ResultSource),
			tokenCell(row),
			fmt.Sprintf("%.6f", row.Deduction),
		}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	total := lo.SumBy(logs, func(l models.UsageLog) float64 { return l.Deduction })
	free := lo.CountBy(logs, func(l models.UsageLog) bool { return l.Deduction == 0 })
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Analyses: %d (free: %d)", len(logs), free))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Total charged: %.6f", total))

	return pdf.Output(w)
}

func tokenCell(l models.UsageLog) string {
	s := fmt.Sprintf("%d", l.InputTokens+l.OutputTokens)
	if l.TokensEstimated {
		s = "~" + s
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "."
}
