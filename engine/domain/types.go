// Package domain defines the corpus types shared by the merge engine:
// current-affairs records, the four-level exam tree and the snapshot
// documents that hold them. It also acts as the validation gate for data
// handed over by scraper collaborators.
package domain

import "time"

// Category classifies a current-affairs record.
type Category string

const (
	CategoryGovernment    Category = "Government & Policy"
	CategoryInternational Category = "International Affairs"
	CategoryEconomy       Category = "Economy & Finance"
	CategoryScience       Category = "Science & Technology"
	CategorySports        Category = "Sports"
	CategoryDefence       Category = "Defence & Security"
	CategoryEnvironment   Category = "Environment"
	CategoryAwards        Category = "Awards & Honours"
	CategoryGeneral       Category = "General Affairs"
)

// ValidCategories is the set of recognised record categories.
var ValidCategories = map[Category]bool{
	CategoryGovernment: true, CategoryInternational: true, CategoryEconomy: true,
	CategoryScience: true, CategorySports: true, CategoryDefence: true,
	CategoryEnvironment: true, CategoryAwards: true, CategoryGeneral: true,
}

// Importance is the editorial weight of a record.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
)

// Record is a single current-affairs item.
type Record struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Category      Category   `json:"category"`
	Source        string     `json:"source"`
	SourceURL     string     `json:"sourceUrl,omitempty"`
	DatePublished Timestamp  `json:"datePublished"`
	Importance    Importance `json:"importance"`
}

// Option is one answer choice of a question.
type Option struct {
	OptionID string `json:"optionId"` // a, b, c, d
	Text     string `json:"text"`
}

// Question is a multiple-choice question, the leaf of the exam tree.
type Question struct {
	QuestionID    string   `json:"questionId"`
	Question      string   `json:"question"`
	Options       []Option `json:"options"`
	CorrectOption string   `json:"correctOption"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Source        string   `json:"source,omitempty"`
}

// QuestionPaper groups questions under a subject.
type QuestionPaper struct {
	PaperID     string     `json:"questionPaperId"`
	PaperName   string     `json:"questionPaperName"`
	Section     string     `json:"section"`
	Questions   []Question `json:"questions"`
	LastUpdated *Timestamp `json:"lastUpdated,omitempty"`
}

// Subject groups question papers under an exam.
type Subject struct {
	SubjectID      string          `json:"subjectId"`
	SubjectName    string          `json:"subjectName"`
	QuestionPapers []QuestionPaper `json:"questionPapers"`
}

// Exam is the root of the exam tree.
type Exam struct {
	ExamID   string    `json:"examId"`
	ExamName string    `json:"examName"`
	Subjects []Subject `json:"subjects"`
}

// UpdateInfo records the cadence metadata of a current-affairs corpus.
// Daily and weekly runs write different timestamp keys.
type UpdateInfo struct {
	LastDailyUpdate  *Timestamp `json:"lastDailyUpdate,omitempty"`
	LastWeeklyUpdate *Timestamp `json:"lastWeeklyUpdate,omitempty"`
	TotalAffairs     int        `json:"totalAffairs"`
	WeeksOfData      int        `json:"weeksOfData"`
	UpdateFrequency  string     `json:"updateFrequency"`
}

// AffairsCorpus is the current-affairs snapshot document.
type AffairsCorpus struct {
	CurrentAffairs []Record    `json:"currentAffairs"`
	LastUpdated    Timestamp   `json:"lastUpdated"`
	Sources        []string    `json:"sources"`
	Categories     []Category  `json:"categories"`
	DailyUpdate    *UpdateInfo `json:"dailyUpdate,omitempty"`
	WeeklyUpdate   *UpdateInfo `json:"weeklyUpdate,omitempty"`
}

// MergeStats summarises the exam corpus after a merge.
type MergeStats struct {
	TotalExams     int        `json:"totalExams"`
	TotalSubjects  int        `json:"totalSubjects"`
	TotalPapers    int        `json:"totalPapers"`
	TotalQuestions int        `json:"totalQuestions"`
	MergedAt       Timestamp  `json:"mergedAt"`
	PreviousUpdate *Timestamp `json:"previousUpdate"`
	NewSources     []string   `json:"newSources"`
}

// ExamCorpus is the exam snapshot document.
type ExamCorpus struct {
	Exams       []Exam         `json:"exams"`
	LastUpdated *Timestamp     `json:"lastUpdated"`
	Sources     []string       `json:"sources"`
	AutoUpdate  map[string]any `json:"autoUpdate,omitempty"`
	MergeStats  *MergeStats    `json:"mergeStats,omitempty"`
}

// At returns a Timestamp pointer for t, for optional timestamp fields.
func At(t time.Time) *Timestamp {
	ts := Timestamp{Time: t}
	return &ts
}
