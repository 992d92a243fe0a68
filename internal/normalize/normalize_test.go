package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
)

const minimalPayload = `{
  "apiVersion": "2024-11-30",
  "modelId": "prebuilt-layout",
  "stringIndexType": "textElements",
  "content": "Hello\nA",
  "pages": [{
    "pageNumber": 1, "width": 8.5, "height": 11, "unit": "inch", "angle": 0,
    "words": [{"content": "Hello", "confidence": 0.99}],
    "lines": [{"content": "Hello", "polygon": [0,0,1,0,1,1,0,1], "spans": [{"offset": 0, "length": 5}]}]
  }],
  "tables": [{
    "rowCount": 1, "columnCount": 1,
    "cells": [{"rowIndex": 0, "columnIndex": 0, "content": "A",
               "boundingRegions": [{"pageNumber": 1, "polygon": [2,2,3,2,3,3,2,3]}]}]
  }],
  "paragraphs": [{"content": "Hello", "boundingRegions": [{"pageNumber": 1, "polygon": [0,0,1,0,1,1,0,1]}]}]
}`

func malformedPath(t *testing.T, err error) string {
	t.Helper()
	var ae *common.AnalysisError
	require.True(t, errors.As(err, &ae), "expected AnalysisError, got %v", err)
	require.Equal(t, common.KindMalformedPayload, ae.Kind)
	return ae.Path
}

func TestNormalize_MinimalRoundTrip(t *testing.T) {
	res, err := Normalize(json.RawMessage(minimalPayload))
	require.NoError(t, err)

	assert.Equal(t, "Hello\nA", res.FullText)
	require.Len(t, res.Pages, 1)
	page := res.Pages[0]
	assert.Equal(t, 1, page.Number)
	assert.Equal(t, 8.5, page.Width)
	assert.Equal(t, "inch", page.Unit)
	require.Len(t, page.Lines, 1)
	assert.Equal(t, "Hello", page.Lines[0].Text)
	assert.Equal(t, entity.Polygon{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}, page.Lines[0].Polygon)

	require.Len(t, res.Tables, 1)
	require.Len(t, res.Tables[0].Cells, 1)
	cell := res.Tables[0].Cells[0]
	assert.Equal(t, "A", cell.Content)
	assert.Equal(t, 1, cell.RowSpan)
	assert.Equal(t, 1, cell.ColumnSpan)
	assert.Equal(t, entity.Point{X: 2, Y: 2}, cell.Polygon[0])

	require.Len(t, res.Paragraphs, 1)
	assert.Nil(t, res.Paragraphs[0].Role)
	assert.Equal(t, entity.Summary{PageCount: 1, TableCount: 1, ParagraphCount: 1}, res.Summary)

	assert.Equal(t, "prebuilt-layout", res.Metadata.ModelID)
	assert.Equal(t, 1, res.Metadata.WordCount)
	assert.Equal(t, 1, res.Metadata.LineCount)
	require.NotNil(t, res.Confidence.AverageWord)
	assert.InDelta(t, 0.99, *res.Confidence.AverageWord, 1e-9)
	assert.Nil(t, res.Confidence.AverageKeyValuePair)
}

func TestNormalize_SummaryMatchesCounts(t *testing.T) {
	payloads := []string{
		`{"content": "", "pages": []}`,
		minimalPayload,
		`{"content": "x", "pages": [
			{"pageNumber": 1, "width": 1, "height": 1, "unit": "pixel"},
			{"pageNumber": 2, "width": 1, "height": 1, "unit": "pixel"}],
		  "paragraphs": [{"content": "a"}, {"content": "b"}, {"content": "c"}]}`,
	}
	for _, p := range payloads {
		res, err := Normalize(json.RawMessage(p))
		require.NoError(t, err)
		assert.Equal(t, len(res.Pages), res.Summary.PageCount)
		assert.Equal(t, len(res.Tables), res.Summary.TableCount)
		assert.Equal(t, len(res.Paragraphs), res.Summary.ParagraphCount)
	}
}

func TestNormalize_MissingRequiredField(t *testing.T) {
	payload := strings.Replace(minimalPayload, `"content": "Hello", "polygon"`, `"text": "Hello", "polygon"`, 1)

	res, err := Normalize(json.RawMessage(payload))
	assert.Nil(t, res)
	path := malformedPath(t, err)
	assert.True(t, strings.HasPrefix(path, "/pages/0/lines/0"), path)
}

func TestNormalize_WrongTypeNamesField(t *testing.T) {
	payload := strings.Replace(minimalPayload, `"polygon": [0,0,1,0,1,1,0,1], "spans"`, `"polygon": "0,0,1,0", "spans"`, 1)

	res, err := Normalize(json.RawMessage(payload))
	assert.Nil(t, res)
	assert.Equal(t, "/pages/0/lines/0/polygon", malformedPath(t, err))
}

func TestNormalize_IntegralFloatsDecodeAsIntegers(t *testing.T) {
	payload := strings.Replace(minimalPayload, `"pageNumber": 1, "width"`, `"pageNumber": 1.0, "width"`, 1)
	payload = strings.Replace(payload, `"rowIndex": 0, "columnIndex": 0,`, `"rowIndex": 0.0, "columnIndex": 0, "rowSpan": 2.0,`, 1)

	res, err := Normalize(json.RawMessage(payload))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages[0].Number)
	assert.Equal(t, 2, res.Tables[0].Cells[0].RowSpan)
}

func TestWireIntRejectsFractions(t *testing.T) {
	var n wireInt
	err := json.Unmarshal([]byte(`1.5`), &n)
	var te *json.UnmarshalTypeError
	assert.True(t, errors.As(err, &te))

	require.NoError(t, json.Unmarshal([]byte(`3`), &n))
	assert.Equal(t, wireInt(3), n)
}

func TestNormalize_OddPolygonRejected(t *testing.T) {
	payload := strings.Replace(minimalPayload, `[2,2,3,2,3,3,2,3]`, `[2,2,3]`, 1)

	res, err := Normalize(json.RawMessage(payload))
	assert.Nil(t, res)
	assert.Equal(t, "/tables/0/cells/0/boundingRegions/0/polygon", malformedPath(t, err))
}

func TestNormalize_MissingPagesAndInvalidJSON(t *testing.T) {
	_, err := Normalize(json.RawMessage(`{"content": "x"}`))
	assert.Equal(t, "/pages", malformedPath(t, err))

	_, err = Normalize(json.RawMessage(`{not json`))
	assert.Equal(t, "/", malformedPath(t, err))

	_, err = Normalize(json.RawMessage(`[]`))
	assert.Equal(t, "/", malformedPath(t, err))
}

func TestNormalize_SpansRolesAndHeaders(t *testing.T) {
	payload := `{
	  "content": "Title",
	  "pages": [{"pageNumber": 1, "width": 1, "height": 1, "unit": "inch",
	             "formulas": [{"kind": "inline", "value": "x^2", "polygon": [0,0,1,1], "confidence": 0.5}]}],
	  "tables": [{"rowCount": 2, "columnCount": 2, "cells": [
	    {"rowIndex": 0, "columnIndex": 0, "content": "H", "columnSpan": 2, "kind": "columnHeader"},
	    {"rowIndex": 1, "columnIndex": 0, "content": "a", "rowSpan": 1}
	  ]}],
	  "paragraphs": [
	    {"role": "title", "content": "Title"},
	    {"role": "sectionHeading", "content": "Intro"},
	    {"role": "pageFooter", "content": "1"},
	    {"content": "body"}
	  ],
	  "keyValuePairs": [
	    {"key": {"content": "Name"}, "value": {"content": "Ada"}, "confidence": 0.9},
	    {"key": {"content": "Empty"}, "confidence": 0.7}
	  ],
	  "styles": [{"isHandwritten": true}]
	}`
	res, err := Normalize(json.RawMessage(payload))
	require.NoError(t, err)

	cells := res.Tables[0].Cells
	assert.Equal(t, 2, cells[0].ColumnSpan)
	assert.Equal(t, 1, cells[0].RowSpan)
	assert.Equal(t, "columnHeader", cells[0].Kind)
	assert.Empty(t, cells[1].Polygon)

	require.NotNil(t, res.Paragraphs[2].Role)
	assert.Equal(t, "pageFooter", *res.Paragraphs[2].Role)
	assert.Nil(t, res.Paragraphs[3].Role)

	require.Len(t, res.Headers["h1"], 2)
	assert.Equal(t, "Title", res.Headers["h1"][0].Content)
	assert.Equal(t, "Intro", res.Headers["h1"][1].Content)
	assert.Empty(t, res.Headers["h2"])

	require.Len(t, res.KeyValuePairs, 2)
	require.NotNil(t, res.KeyValuePairs[0].Value)
	assert.Equal(t, "Ada", *res.KeyValuePairs[0].Value)
	assert.Nil(t, res.KeyValuePairs[1].Value)

	require.Len(t, res.Pages[0].Formulas, 1)
	assert.Equal(t, "x^2", res.Pages[0].Formulas[0].Value)

	require.NotNil(t, res.Confidence.AverageKeyValuePair)
	assert.InDelta(t, 0.8, *res.Confidence.AverageKeyValuePair, 1e-9)
	assert.InDelta(t, 0.5, *res.Confidence.Min, 1e-9)
	assert.InDelta(t, 0.9, *res.Confidence.Max, 1e-9)
}
