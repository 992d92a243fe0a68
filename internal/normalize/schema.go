package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "analyze_result.json"

// BuildAnalyzeResultSchema returns the structural contract of an analyzeResult payload.
// Only consumed fields are constrained; anything else is accepted and ignored.
func BuildAnalyzeResultSchema() map[string]any {
	polygon := map[string]any{"type": "array", "items": map[string]any{"type": "number"}}
	regions := arrayOf(object([]string{"pageNumber", "polygon"}, map[string]any{
		"pageNumber": map[string]any{"type": "integer", "minimum": 1},
		"polygon":    polygon,
	}))
	confidence := map[string]any{"type": "number", "minimum": 0, "maximum": 1}

	line := object([]string{"content", "polygon"}, map[string]any{
		"content": map[string]any{"type": "string"},
		"polygon": polygon,
	})
	word := object([]string{"content"}, map[string]any{
		"content":    map[string]any{"type": "string"},
		"confidence": confidence,
	})
	formula := object([]string{"value"}, map[string]any{
		"kind":       map[string]any{"type": "string"},
		"value":      map[string]any{"type": "string"},
		"polygon":    polygon,
		"confidence": confidence,
	})
	page := object([]string{"pageNumber", "width", "height", "unit"}, map[string]any{
		"pageNumber": map[string]any{"type": "integer", "minimum": 1},
		"width":      map[string]any{"type": "number", "minimum": 0},
		"height":     map[string]any{"type": "number", "minimum": 0},
		"unit":       map[string]any{"type": "string"},
		"angle":      map[string]any{"type": "number"},
		"lines":      arrayOf(line),
		"words":      arrayOf(word),
		"formulas":   arrayOf(formula),
	})
	cell := object([]string{"rowIndex", "columnIndex", "content"}, map[string]any{
		"rowIndex":        map[string]any{"type": "integer", "minimum": 0},
		"columnIndex":     map[string]any{"type": "integer", "minimum": 0},
		"content":         map[string]any{"type": "string"},
		"rowSpan":         map[string]any{"type": "integer", "minimum": 1},
		"columnSpan":      map[string]any{"type": "integer", "minimum": 1},
		"kind":            map[string]any{"type": "string"},
		"boundingRegions": regions,
	})
	table := object([]string{"rowCount", "columnCount", "cells"}, map[string]any{
		"rowCount":        map[string]any{"type": "integer", "minimum": 0},
		"columnCount":     map[string]any{"type": "integer", "minimum": 0},
		"cells":           arrayOf(cell),
		"boundingRegions": regions,
	})
	paragraph := object([]string{"content"}, map[string]any{
		"role":            map[string]any{"type": "string"},
		"content":         map[string]any{"type": "string"},
		"boundingRegions": regions,
	})
	kvElement := object([]string{"content"}, map[string]any{
		"content":         map[string]any{"type": "string"},
		"boundingRegions": regions,
	})
	keyValue := object([]string{"key"}, map[string]any{
		"key":        kvElement,
		"value":      kvElement,
		"confidence": confidence,
	})

	return object([]string{"content", "pages"}, map[string]any{
		"modelId":       map[string]any{"type": "string"},
		"apiVersion":    map[string]any{"type": "string"},
		"content":       map[string]any{"type": "string"},
		"pages":         arrayOf(page),
		"tables":        arrayOf(table),
		"paragraphs":    arrayOf(paragraph),
		"keyValuePairs": arrayOf(keyValue),
	})
}

func object(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   required,
		"properties": props,
	}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(BuildAnalyzeResultSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// violation reduces a validation error to its most specific cause:
// the JSON pointer of the offending field and a message.
func violation(err error) (string, string) {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "/", err.Error()
	}
	leaf := deepestLeaf(ve)
	path := leaf.InstanceLocation
	if missing, ok := strings.CutPrefix(leaf.Message, "missing properties: "); ok {
		first := strings.TrimSpace(strings.Split(missing, ",")[0])
		path = path + "/" + strings.Trim(first, `'"`)
		return path, "required field is missing"
	}
	return path, leaf.Message
}

func deepestLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return ve
	}
	var best *jsonschema.ValidationError
	for _, c := range ve.Causes {
		leaf := deepestLeaf(c)
		if best == nil || depth(leaf.InstanceLocation) > depth(best.InstanceLocation) {
			best = leaf
		}
	}
	return best
}

func depth(pointer string) int {
	return strings.Count(pointer, "/")
}
