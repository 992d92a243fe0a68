package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
)

// Wire shapes of the consumed analyzeResult fields.
type rawResult struct {
	ModelID       string         `json:"modelId"`
	APIVersion    string         `json:"apiVersion"`
	Content       string         `json:"content"`
	Pages         []rawPage      `json:"pages"`
	Tables        []rawTable     `json:"tables"`
	Paragraphs    []rawParagraph `json:"paragraphs"`
	KeyValuePairs []rawKeyValue  `json:"keyValuePairs"`
}

type rawPage struct {
	PageNumber wireInt      `json:"pageNumber"`
	Width      float64      `json:"width"`
	Height     float64      `json:"height"`
	Unit       string       `json:"unit"`
	Angle      *float64     `json:"angle"`
	Lines      []rawLine    `json:"lines"`
	Words      []rawWord    `json:"words"`
	Formulas   []rawFormula `json:"formulas"`
}

type rawLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

type rawWord struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
}

type rawFormula struct {
	Kind       string    `json:"kind"`
	Value      string    `json:"value"`
	Polygon    []float64 `json:"polygon"`
	Confidence *float64  `json:"confidence"`
}

type rawRegion struct {
	PageNumber wireInt     `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}

type rawTable struct {
	RowCount        wireInt     `json:"rowCount"`
	ColumnCount     wireInt     `json:"columnCount"`
	Cells           []rawCell   `json:"cells"`
	BoundingRegions []rawRegion `json:"boundingRegions"`
}

type rawCell struct {
	RowIndex        wireInt     `json:"rowIndex"`
	ColumnIndex     wireInt     `json:"columnIndex"`
	Content         string      `json:"content"`
	RowSpan         *wireInt    `json:"rowSpan"`
	ColumnSpan      *wireInt    `json:"columnSpan"`
	Kind            string      `json:"kind"`
	BoundingRegions []rawRegion `json:"boundingRegions"`
}

type rawParagraph struct {
	Role            *string     `json:"role"`
	Content         string      `json:"content"`
	BoundingRegions []rawRegion `json:"boundingRegions"`
}

type rawKeyValue struct {
	Key        rawElement  `json:"key"`
	Value      *rawElement `json:"value"`
	Confidence *float64    `json:"confidence"`
}

type rawElement struct {
	Content string `json:"content"`
}

// wireInt decodes a JSON integer, including integral floats such as 1.0.
type wireInt int

func (n *wireInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return &json.UnmarshalTypeError{Value: "number " + string(b), Type: reflect.TypeOf(n).Elem()}
	}
	*n = wireInt(f)
	return nil
}

// Normalize converts a raw analyzeResult into an AnalysisResult. It either
// returns a complete result or a MalformedPayloadError naming the offending path.
func Normalize(raw json.RawMessage) (*entity.AnalysisResult, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("analyze result schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, common.MalformedPayloadError("/", "payload is not valid JSON: "+err.Error())
	}
	if err := schema.Validate(doc); err != nil {
		path, msg := violation(err)
		return nil, common.MalformedPayloadError(path, msg)
	}

	var rr rawResult
	if err := json.Unmarshal(raw, &rr); err != nil {
		path := "/"
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			path += strings.ReplaceAll(te.Field, ".", "/")
		}
		return nil, common.MalformedPayloadError(path, err.Error())
	}
	return build(&rr)
}

func build(rr *rawResult) (*entity.AnalysisResult, error) {
	res := &entity.AnalysisResult{
		FullText:      rr.Content,
		Pages:         make([]entity.Page, 0, len(rr.Pages)),
		Tables:        make([]entity.Table, 0, len(rr.Tables)),
		Paragraphs:    make([]entity.Paragraph, 0, len(rr.Paragraphs)),
		KeyValuePairs: make([]entity.KeyValuePair, 0, len(rr.KeyValuePairs)),
		Headers:       make(map[string][]entity.Heading, 6),
	}
	for _, lvl := range constants.AllHeadingLevels() {
		res.Headers[string(lvl)] = []entity.Heading{}
	}
	stats := newConfidenceCollector()
	words, lines := 0, 0

	for i, p := range rr.Pages {
		page := entity.Page{
			Number: int(p.PageNumber),
			Width:  p.Width,
			Height: p.Height,
			Unit:   p.Unit,
			Angle:  p.Angle,
			Lines:  make([]entity.Line, 0, len(p.Lines)),
		}
		for j, l := range p.Lines {
			poly, err := toPolygon(l.Polygon, fmt.Sprintf("/pages/%d/lines/%d/polygon", i, j))
			if err != nil {
				return nil, err
			}
			page.Lines = append(page.Lines, entity.Line{Text: l.Content, Polygon: poly})
		}
		for j, f := range p.Formulas {
			poly, err := toPolygon(f.Polygon, fmt.Sprintf("/pages/%d/formulas/%d/polygon", i, j))
			if err != nil {
				return nil, err
			}
			page.Formulas = append(page.Formulas, entity.Formula{Kind: f.Kind, Value: f.Value, Polygon: poly, Confidence: f.Confidence})
			stats.add(groupFormula, f.Confidence)
		}
		for _, w := range p.Words {
			stats.add(groupWord, w.Confidence)
		}
		words += len(p.Words)
		lines += len(p.Lines)
		res.Pages = append(res.Pages, page)
	}

	for i, t := range rr.Tables {
		base := fmt.Sprintf("/tables/%d", i)
		regions, err := toRegions(t.BoundingRegions, base+"/boundingRegions")
		if err != nil {
			return nil, err
		}
		table := entity.Table{
			RowCount:    int(t.RowCount),
			ColumnCount: int(t.ColumnCount),
			Cells:       make([]entity.Cell, 0, len(t.Cells)),
			Regions:     regions,
		}
		for j, c := range t.Cells {
			cellRegions, err := toRegions(c.BoundingRegions, fmt.Sprintf("%s/cells/%d/boundingRegions", base, j))
			if err != nil {
				return nil, err
			}
			table.Cells = append(table.Cells, entity.Cell{
				RowIndex:    int(c.RowIndex),
				ColumnIndex: int(c.ColumnIndex),
				Content:     c.Content,
				Polygon:     firstPolygon(cellRegions),
				RowSpan:     spanOrOne(c.RowSpan),
				ColumnSpan:  spanOrOne(c.ColumnSpan),
				Kind:        c.Kind,
			})
		}
		res.Tables = append(res.Tables, table)
	}

	for i, p := range rr.Paragraphs {
		regions, err := toRegions(p.BoundingRegions, fmt.Sprintf("/paragraphs/%d/boundingRegions", i))
		if err != nil {
			return nil, err
		}
		res.Paragraphs = append(res.Paragraphs, entity.Paragraph{
			Role:    p.Role,
			Content: p.Content,
			Polygon: firstPolygon(regions),
			Regions: regions,
		})
		if p.Role != nil {
			if lvl, ok := constants.HeadingLevelForRole(*p.Role); ok {
				res.Headers[string(lvl)] = append(res.Headers[string(lvl)], entity.Heading{Content: p.Content, Regions: regions})
			}
		}
	}

	for _, kv := range rr.KeyValuePairs {
		pair := entity.KeyValuePair{Key: kv.Key.Content, Confidence: kv.Confidence}
		if kv.Value != nil {
			v := kv.Value.Content
			pair.Value = &v
		}
		res.KeyValuePairs = append(res.KeyValuePairs, pair)
		stats.add(groupKeyValue, kv.Confidence)
	}

	res.Summary = res.ComputeSummary()
	res.Confidence = stats.stats()
	res.Metadata = entity.DocumentMetadata{
		ModelID:       rr.ModelID,
		APIVersion:    rr.APIVersion,
		ContentLength: utf8.RuneCountInString(rr.Content),
		WordCount:     words,
		LineCount:     lines,
	}
	return res, nil
}

// toPolygon pairs a flat [x0, y0, x1, y1, ...] array into points.
func toPolygon(flat []float64, path string) (entity.Polygon, error) {
	if len(flat)%2 != 0 {
		return nil, common.MalformedPayloadError(path, fmt.Sprintf("polygon has odd length %d", len(flat)))
	}
	poly := make(entity.Polygon, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		poly = append(poly, entity.Point{X: flat[i], Y: flat[i+1]})
	}
	return poly, nil
}

func toRegions(raw []rawRegion, path string) ([]entity.BoundingRegion, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]entity.BoundingRegion, 0, len(raw))
	for i, r := range raw {
		poly, err := toPolygon(r.Polygon, fmt.Sprintf("%s/%d/polygon", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, entity.BoundingRegion{PageNumber: int(r.PageNumber), Polygon: poly})
	}
	return out, nil
}

func firstPolygon(regions []entity.BoundingRegion) entity.Polygon {
	if len(regions) == 0 {
		return entity.Polygon{}
	}
	return regions[0].Polygon
}

func spanOrOne(span *wireInt) int {
	if span == nil || *span < 1 {
		return 1
	}
	return int(*span)
}

type confidenceGroup int

const (
	groupWord confidenceGroup = iota
	groupKeyValue
	groupFormula
)

type confidenceCollector struct {
	sums   map[confidenceGroup]float64
	counts map[confidenceGroup]int
	min    float64
	max    float64
	any    bool
}

func newConfidenceCollector() *confidenceCollector {
	return &confidenceCollector{
		sums:   map[confidenceGroup]float64{},
		counts: map[confidenceGroup]int{},
		min:    math.Inf(1),
		max:    math.Inf(-1),
	}
}

func (c *confidenceCollector) add(g confidenceGroup, v *float64) {
	if v == nil {
		return
	}
	c.sums[g] += *v
	c.counts[g]++
	c.min = math.Min(c.min, *v)
	c.max = math.Max(c.max, *v)
	c.any = true
}

func (c *confidenceCollector) average(g confidenceGroup) *float64 {
	if c.counts[g] == 0 {
		return nil
	}
	avg := c.sums[g] / float64(c.counts[g])
	return &avg
}

func (c *confidenceCollector) stats() entity.ConfidenceStats {
	s := entity.ConfidenceStats{
		AverageWord:         c.average(groupWord),
		AverageKeyValuePair: c.average(groupKeyValue),
		AverageFormula:      c.average(groupFormula),
	}
	if c.any {
		lo, hi := c.min, c.max
		s.Min, s.Max = &lo, &hi
	}
	return s
}
