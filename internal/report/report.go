// Package report renders grading results as downloadable documents.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/pavelanni/gradeflow/internal/feedback"
	"github.com/pavelanni/gradeflow/internal/i18n"
	"github.com/pavelanni/gradeflow/internal/model"
)

// Band is one row of the score distribution.
type Band struct {
	Grade string
	Min   int
	Max   int
}

// Label renders the band as in "A+ (90-100)".
func (b Band) Label() string {
	return fmt.Sprintf("%s (%d-%d)", b.Grade, b.Min, b.Max)
}

// Bands lists grade bands from highest to lowest.
var Bands = []Band{
	{"A+", 90, 100},
	{"A", 80, 89},
	{"B", 70, 79},
	{"C", 60, 69},
	{"D", 50, 59},
	{"F", 0, 49},
}

// Grade returns the letter grade for a score.
func Grade(score int) string {
	for _, b := range Bands {
		if score >= b.Min {
			return b.Grade
		}
	}
	return "F"
}

// Stats summarizes a result set.
type Stats struct {
	Total        int
	Average      int
	Reviewed     int
	Pending      int
	Distribution []int // counts aligned with Bands
}

// Summarize computes summary statistics. The average is rounded half up.
func Summarize(results []model.GradingResult) Stats {
	st := Stats{Total: len(results), Distribution: make([]int, len(Bands))}
	sum := 0
	for _, r := range results {
		sum += r.Score
		if r.IsReviewed {
			st.Reviewed++
		}
		for i, b := range Bands {
			if r.Score >= b.Min {
				st.Distribution[i]++
				break
			}
		}
	}
	if st.Total > 0 {
		st.Average = int(math.Floor(float64(sum)/float64(st.Total) + 0.5))
	}
	st.Pending = st.Total - st.Reviewed
	return st
}

// Markdown writes the grading report. Headings are localized through the localizer in ctx.
// A nil assessment omits the assessment section.
func Markdown(ctx context.Context, w io.Writer, results []model.GradingResult, a *model.Assessment, now time.Time) error {
	var b strings.Builder
	t := func(id string) string { return i18n.T(ctx, id) }

	fmt.Fprintf(&b, "# %s\n\n", t("ReportTitle"))
	fmt.Fprintf(&b, "**%s:** %s\n\n", t("GeneratedOn"), i18n.Td(ctx, "DateAtTime", map[string]any{
		"Date": now.Format("2006-01-02"),
		"Time": now.Format("15:04:05"),
	}))

	if a != nil {
		fmt.Fprintf(&b, "## %s\n\n", t("AssessmentInformation"))
		fmt.Fprintf(&b, "**%s:** %s\n\n", t("Title"), a.Title)
		fmt.Fprintf(&b, "**%s:** %s\n\n", t("AssessmentDescription"), a.Description)
		fmt.Fprintf(&b, "**%s:** %s\n\n", t("Instructions"), a.Instructions)
		fmt.Fprintf(&b, "**%s:** %s\n\n", t("MarkingCriteria"), a.MarkingCriteria)
	}

	st := Summarize(results)
	fmt.Fprintf(&b, "## %s\n\n", t("SummaryStatistics"))
	fmt.Fprintf(&b, "| %s | %s |\n", t("Metric"), t("Value"))
	b.WriteString("|--------|-------|\n")
	fmt.Fprintf(&b, "| %s | %d |\n", t("TotalSubmissions"), st.Total)
	fmt.Fprintf(&b, "| %s | %d%% |\n", t("AverageScore"), st.Average)
	fmt.Fprintf(&b, "| %s | %d |\n", t("Reviewed"), st.Reviewed)
	fmt.Fprintf(&b, "| %s | %d |\n\n", t("PendingReview"), st.Pending)

	fmt.Fprintf(&b, "## %s\n\n", t("ScoreDistribution"))
	fmt.Fprintf(&b, "| %s | %s |\n", t("GradeRange"), t("Count"))
	b.WriteString("|-------------|-------|\n")
	for i, band := range Bands {
		fmt.Fprintf(&b, "| %s | %d |\n", band.Label(), st.Distribution[i])
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("IndividualResults"))
	for i, r := range results {
		status := t("StatusPending")
		if r.IsReviewed {
			status = t("StatusReviewed")
		}
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, r.StudentName)
		fmt.Fprintf(&b, "**%s:** %d%% (%s)\n\n", t("Score"), r.Score, Grade(r.Score))
		fmt.Fprintf(&b, "**%s:** %s\n\n", t("Status"), status)
		fmt.Fprintf(&b, "**%s:** %s\n\n", t("GradedOn"), r.GradedAt.Local().Format("2006-01-02 15:04:05"))

		if r.Feedback != "" {
			fmt.Fprintf(&b, "#### %s\n\n%s\n\n", t("Feedback"), feedback.CleanText(r.Feedback))
		}
		if r.DetailedFeedback != "" {
			fmt.Fprintf(&b, "#### **%s**\n\n%s\n\n", t("DetailedFeedback"), feedback.CleanText(r.DetailedFeedback))
		}
		writeList(&b, "**"+t("MinorAreas")+"**", "", r.MinorAreasForImprovement)
		writeList(&b, t("Strengths"), "✅ ", r.Strengths)
		writeList(&b, t("AreasForImprovement"), "❌ ", r.Weaknesses)
		writeList(&b, t("Suggestions"), "💡 ", r.Suggestions)
		b.WriteString("---\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, heading, marker string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "#### %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s%s\n", marker, item)
	}
	b.WriteString("\n")
}

var unsafeFileChars = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]`)

// FileName returns the download name for a report, e.g. "grading_results_Lab 1_2026-01-02.md".
func FileName(a *model.Assessment, now time.Time, ext string) string {
	title := "assessment"
	if a != nil && strings.TrimSpace(a.Title) != "" {
		title = unsafeFileChars.ReplaceAllString(strings.TrimSpace(a.Title), "_")
	}
	return fmt.Sprintf("grading_results_%s_%s.%s", title, now.Format("2006-01-02"), ext)
}

// JSON writes an export bundle as indented JSON.
func JSON(w io.Writer, exp model.AssessmentExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exp)
}
