package dicomio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// MissingTagError reports a required attribute that is absent or empty
type MissingTagError struct {
	Name string
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("missing required attribute %s", e.Name)
}

// find returns the element with tag t among elems, or nil
func find(elems []*dicom.Element, t tag.Tag) *dicom.Element {
	for _, e := range elems {
		if e != nil && e.Tag == t {
			return e
		}
	}
	return nil
}

func stringsOf(elems []*dicom.Element, t tag.Tag) []string {
	e := find(elems, t)
	if e == nil || e.Value == nil {
		return nil
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, strings.TrimSpace(strings.TrimRight(s, "\x00")))
		}
		return out
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	}
	return nil
}

func stringOf(elems []*dicom.Element, t tag.Tag) string {
	if s := stringsOf(elems, t); len(s) > 0 {
		return s[0]
	}
	return ""
}

// floatsOf reads decimal strings (DS) as well as binary floats and integers
func floatsOf(elems []*dicom.Element, t tag.Tag) ([]float64, error) {
	e := find(elems, t)
	if e == nil || e.Value == nil {
		return nil, nil
	}
	switch v := e.Value.GetValue().(type) {
	case []float64:
		return v, nil
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
			if s == "" {
				continue
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid decimal %q", tagName(t), s)
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: unexpected value type %T", tagName(t), e.Value.GetValue())
}

// requireFloats reads exactly n numbers
func requireFloats(elems []*dicom.Element, t tag.Tag, n int) ([]float64, error) {
	v, err := floatsOf(elems, t)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, &MissingTagError{Name: tagName(t)}
	}
	if len(v) != n {
		return nil, fmt.Errorf("%s: expected %d values, got %d", tagName(t), n, len(v))
	}
	return v, nil
}

// intOf reads an integer attribute (US/UL/IS); ok is false when absent
func intOf(elems []*dicom.Element, t tag.Tag) (int, bool, error) {
	e := find(elems, t)
	if e == nil || e.Value == nil {
		return 0, false, nil
	}
	switch v := e.Value.GetValue().(type) {
	case []int:
		if len(v) == 0 {
			return 0, false, nil
		}
		return v[0], true, nil
	case []string:
		if len(v) == 0 || strings.TrimSpace(v[0]) == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimRight(v[0], "\x00")))
		if err != nil {
			return 0, false, fmt.Errorf("%s: invalid integer %q", tagName(t), v[0])
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("%s: unexpected value type %T", tagName(t), e.Value.GetValue())
}

// items returns the elements of every item of a sequence attribute
func items(elems []*dicom.Element, t tag.Tag) [][]*dicom.Element {
	e := find(elems, t)
	if e == nil || e.Value == nil {
		return nil
	}
	seq, ok := e.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}
	out := make([][]*dicom.Element, 0, len(seq))
	for _, item := range seq {
		if elems, ok := item.GetValue().([]*dicom.Element); ok {
			out = append(out, elems)
		}
	}
	return out
}

func tagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil {
		return info.Name
	}
	return t.String()
}
