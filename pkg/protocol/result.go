package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Result is a decoded parse result. Its dynamic type is fixed by the
// requested OutputShape:
//
//	ShapeFlat   -> FlatResult
//	ShapeByRow  -> RowsResult
//	ShapeSimple -> *SimpleDocument
//	ShapeFull   -> *FullDocument
type Result interface {
	Shape() OutputShape
	// Characters returns every character record in document order.
	Characters() []CharLayout
	isResult()
}

// FlatResult is the flat shape: one record per character.
type FlatResult []CharLayout

// RowsResult is the byRow shape.
type RowsResult []Row

func (FlatResult) Shape() OutputShape      { return ShapeFlat }
func (RowsResult) Shape() OutputShape      { return ShapeByRow }
func (*SimpleDocument) Shape() OutputShape { return ShapeSimple }
func (*FullDocument) Shape() OutputShape   { return ShapeFull }

func (FlatResult) isResult()      {}
func (RowsResult) isResult()      {}
func (*SimpleDocument) isResult() {}
func (*FullDocument) isResult()   {}

func (r FlatResult) Characters() []CharLayout {
	return r
}

func (r RowsResult) Characters() []CharLayout {
	var out []CharLayout
	for _, row := range r {
		out = append(out, row.Children...)
	}
	return out
}

func (d *SimpleDocument) Characters() []CharLayout {
	var out []CharLayout
	for _, line := range d.Lines {
		out = append(out, line.Characters...)
	}
	return out
}

func (d *FullDocument) Characters() []CharLayout {
	var out []CharLayout
	for _, page := range d.Pages {
		for _, block := range page.Blocks {
			for _, line := range block.Lines {
				for _, run := range line.Runs {
					out = append(out, run.Characters...)
				}
			}
		}
	}
	return out
}

// EmptyResult returns the empty value of shape. Unknown shapes yield an
// empty FlatResult.
func EmptyResult(shape OutputShape) Result {
	switch shape {
	case ShapeByRow:
		return RowsResult{}
	case ShapeSimple:
		return &SimpleDocument{Lines: []SimpleLine{}}
	case ShapeFull:
		return &FullDocument{Pages: []Page{}}
	default:
		return FlatResult{}
	}
}

// DecodeResult decodes module output as the given shape.
// The top-level JSON kind is checked before any field is interpreted and
// unknown fields are rejected, so output of one shape never decodes as another.
func DecodeResult(shape OutputShape, data []byte) (Result, error) {
	if !shape.Valid() {
		return nil, &InvalidShapeError{Shape: string(shape)}
	}

	kind := topLevelKind(data)
	switch shape {
	case ShapeFlat, ShapeByRow:
		if kind != '[' {
			return nil, &ShapeMismatchError{Shape: shape, Err: errors.New("expected a JSON array")}
		}
	default:
		if kind != '{' {
			return nil, &ShapeMismatchError{Shape: shape, Err: errors.New("expected a JSON object")}
		}
	}

	switch shape {
	case ShapeFlat:
		out := FlatResult{}
		if err := decodeStrict(data, &out); err != nil {
			return nil, &ShapeMismatchError{Shape: shape, Err: err}
		}
		return out, nil

	case ShapeByRow:
		out := RowsResult{}
		if err := decodeStrict(data, &out); err != nil {
			return nil, &ShapeMismatchError{Shape: shape, Err: err}
		}
		for i, row := range out {
			if row.Children == nil {
				return nil, &ShapeMismatchError{Shape: shape, Err: fmt.Errorf("row %d has no children", i)}
			}
		}
		return out, nil

	case ShapeSimple:
		var out SimpleDocument
		if err := decodeStrict(data, &out); err != nil {
			return nil, &ShapeMismatchError{Shape: shape, Err: err}
		}
		if out.Lines == nil {
			return nil, &ShapeMismatchError{Shape: shape, Err: errors.New("missing 'lines'")}
		}
		return &out, nil

	default:
		var out FullDocument
		if err := decodeStrict(data, &out); err != nil {
			return nil, &ShapeMismatchError{Shape: shape, Err: err}
		}
		if out.Pages == nil {
			return nil, &ShapeMismatchError{Shape: shape, Err: errors.New("missing 'pages'")}
		}
		return &out, nil
	}
}

func topLevelKind(data []byte) byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
