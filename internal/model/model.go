package model

import "time"

// SubmissionStatus represents the grading status of a submission.
type SubmissionStatus string

const (
	StatusUnsubmitted SubmissionStatus = "unsubmitted"
	StatusGraded      SubmissionStatus = "graded"
)

// Assessment is a user-defined grading task.
type Assessment struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	MarkingCriteria     string    `json:"markingCriteria"`
	Instructions        string    `json:"instructions"`
	MarkingCriteriaFile string    `json:"markingCriteriaFile,omitempty"`
	InstructionsFile    string    `json:"instructionsFile,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// AssessmentInput is the user-editable part of an assessment.
type AssessmentInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description"`
	MarkingCriteria string `json:"markingCriteria"`
	Instructions    string `json:"instructions"`
}

// SubmissionFile is one uploaded file of a submission.
// Content is read from Path lazily and cached once Loaded is set.
type SubmissionFile struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Content  string `json:"fileContent"`
	Path     string `json:"-"`
	Loaded   bool   `json:"loaded"`
}

// Submission is one student's uploaded file(s) for an assessment.
type Submission struct {
	ID           string           `json:"id"`
	AssessmentID string           `json:"assessmentId"`
	StudentName  string           `json:"studentName"`
	Files        []SubmissionFile `json:"files"`
	UploadedAt   time.Time        `json:"uploadedAt"`
	Status       SubmissionStatus `json:"status"`
}

// SubmissionContent is the flattened view of a submission that is sent to the LLM
// or to the relay.
type SubmissionContent struct {
	ID          string `json:"id"`
	StudentName string `json:"studentName"`
	FileName    string `json:"fileName"`
	FileContent string `json:"fileContent"`
}

// Evaluation is the normalized grading payload parsed from an LLM response.
type Evaluation struct {
	Score                    int      `json:"score"`
	Feedback                 string   `json:"feedback"`
	DetailedFeedback         string   `json:"detailedFeedback"`
	MinorAreasForImprovement []string `json:"minorAreasForImprovement"`
	Strengths                []string `json:"strengths"`
	Weaknesses               []string `json:"weaknesses"`
	Suggestions              []string `json:"suggestions"`
}

// GradingResult is the structured output of grading one submission.
type GradingResult struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submissionId"`
	StudentName  string `json:"studentName"`
	Evaluation
	GradedAt   time.Time `json:"gradedAt"`
	IsReviewed bool      `json:"isReviewed"`
}

// ResultUpdate holds a manual edit of a grading result. Nil fields are left unchanged.
type ResultUpdate struct {
	Score                    *int      `json:"score"`
	Feedback                 *string   `json:"feedback"`
	DetailedFeedback         *string   `json:"detailedFeedback"`
	MinorAreasForImprovement *[]string `json:"minorAreasForImprovement"`
	Strengths                *[]string `json:"strengths"`
	Weaknesses               *[]string `json:"weaknesses"`
	Suggestions              *[]string `json:"suggestions"`
}

// Apply copies the non-nil fields of u onto r and marks r as reviewed.
func (u ResultUpdate) Apply(r *GradingResult) {
	if u.Score != nil {
		r.Score = ClampScore(*u.Score)
	}
	if u.Feedback != nil {
		r.Feedback = *u.Feedback
	}
	if u.DetailedFeedback != nil {
		r.DetailedFeedback = *u.DetailedFeedback
	}
	if u.MinorAreasForImprovement != nil {
		r.MinorAreasForImprovement = *u.MinorAreasForImprovement
	}
	if u.Strengths != nil {
		r.Strengths = *u.Strengths
	}
	if u.Weaknesses != nil {
		r.Weaknesses = *u.Weaknesses
	}
	if u.Suggestions != nil {
		r.Suggestions = *u.Suggestions
	}
	r.IsReviewed = true
}

// ClampScore limits a score to the 0-100 range.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RelayGradeRequest is the body accepted by the relay grading endpoint.
type RelayGradeRequest struct {
	Assessment *Assessment        `json:"assessment" validate:"required"`
	Submission *SubmissionContent `json:"submission" validate:"required"`
}

// ConnectionStatus is returned by connectivity checks.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GradeConfig holds runtime grading parameters set via CLI flags.
type GradeConfig struct {
	UploadDir     string // directory where uploaded submission files are kept
	MaxUploadMB   int
	PromptVariant string // strict, standard, lenient
}

// AssessmentExport bundles an assessment with its submissions and results.
// PromptVariant is the variant of the most recent grading run, if any.
type AssessmentExport struct {
	Assessment    Assessment      `json:"assessment"`
	PromptVariant string          `json:"promptVariant,omitempty"`
	Submissions   []Submission    `json:"submissions"`
	Results       []GradingResult `json:"results"`
	ExportedAt    time.Time       `json:"exportedAt"`
}
