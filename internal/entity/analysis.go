package entity

// Point is one vertex of a bounding polygon, in the page's unit.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered sequence of vertices.
type Polygon []Point

// BoundingRegion locates an element on a specific page.
type BoundingRegion struct {
	PageNumber int     `json:"page_number"`
	Polygon    Polygon `json:"polygon"`
}

// AnalysisResult is the application-facing shape of a completed analysis.
type AnalysisResult struct {
	FullText   string      `json:"full_text"`
	Pages      []Page      `json:"pages"`
	Tables     []Table     `json:"tables"`
	Paragraphs []Paragraph `json:"paragraphs"`
	Summary    Summary     `json:"summary"`

	KeyValuePairs []KeyValuePair       `json:"key_value_pairs"`
	Headers       map[string][]Heading `json:"headers"`
	Confidence    ConfidenceStats      `json:"confidence"`
	Metadata      DocumentMetadata     `json:"metadata"`
}

type Page struct {
	Number   int       `json:"number"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Unit     string    `json:"unit"`
	Angle    *float64  `json:"angle,omitempty"`
	Lines    []Line    `json:"lines"`
	Formulas []Formula `json:"formulas,omitempty"`
}

type Line struct {
	Text    string  `json:"text"`
	Polygon Polygon `json:"polygon"`
}

// Formula is a detected mathematical expression (LaTeX in Value).
type Formula struct {
	Kind       string   `json:"kind"`
	Value      string   `json:"value"`
	Polygon    Polygon  `json:"polygon"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type Table struct {
	RowCount    int              `json:"row_count"`
	ColumnCount int              `json:"column_count"`
	Cells       []Cell           `json:"cells"`
	Regions     []BoundingRegion `json:"regions,omitempty"`
}

type Cell struct {
	RowIndex    int     `json:"row_index"`
	ColumnIndex int     `json:"column_index"`
	Content     string  `json:"content"`
	Polygon     Polygon `json:"polygon"`
	RowSpan     int     `json:"row_span"`
	ColumnSpan  int     `json:"column_span"`
	Kind        string  `json:"kind,omitempty"` // "columnHeader", "rowHeader", ...; empty for content
}

type Paragraph struct {
	// Role is passed through opaquely (title, sectionHeading, pageHeader, ...).
	Role    *string          `json:"role,omitempty"`
	Content string           `json:"content"`
	Polygon Polygon          `json:"polygon"`
	Regions []BoundingRegion `json:"regions,omitempty"`
}

// Summary counts the built sequences. Never populated from payload fields.
type Summary struct {
	PageCount      int `json:"page_count"`
	TableCount     int `json:"table_count"`
	ParagraphCount int `json:"paragraph_count"`
}

type KeyValuePair struct {
	Key        string   `json:"key"`
	Value      *string  `json:"value,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Heading is a title or section heading grouped under its outline level.
type Heading struct {
	Content string           `json:"content"`
	Regions []BoundingRegion `json:"regions,omitempty"`
}

// ConfidenceStats summarizes the confidences the service reported; nil means none were reported.
type ConfidenceStats struct {
	AverageFormula      *float64 `json:"average_formula,omitempty"`
	AverageKeyValuePair *float64 `json:"average_key_value_pair,omitempty"`
	AverageWord         *float64 `json:"average_word,omitempty"`
	Min                 *float64 `json:"min,omitempty"`
	Max                 *float64 `json:"max,omitempty"`
}

// DocumentMetadata describes how the result was produced.
type DocumentMetadata struct {
	ModelID       string `json:"model_id,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	ContentLength int    `json:"content_length"`
	WordCount     int    `json:"word_count"`
	LineCount     int    `json:"line_count"`

	// Filled by the orchestrator.
	JobID       string `json:"job_id,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int    `json:"file_size_bytes,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
}

// ComputeSummary recounts the built sequences.
func (r *AnalysisResult) ComputeSummary() Summary {
	return Summary{
		PageCount:      len(r.Pages),
		TableCount:     len(r.Tables),
		ParagraphCount: len(r.Paragraphs),
	}
}
