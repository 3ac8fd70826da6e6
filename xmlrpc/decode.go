package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// maxValueDepth bounds nesting of arrays and structs in a request.
const maxValueDepth = 64

// DecodeMethodCall parses an XML-RPC methodCall document.
//
// Wire values decode to Go values as follows:
//   - i4, i8, int: int
//   - boolean: bool
//   - string, untyped text: string
//   - double: float64
//   - dateTime.iso8601: time.Time (UTC)
//   - base64: []byte
//   - array: []any
//   - struct: map[string]any
//   - nil: nil
//
// Any failure is returned as a *ParseError.
func DecodeMethodCall(data []byte) (method string, params []any, err error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	method, params, err = decodeMethodCall(dec)
	if err != nil {
		return "", nil, &ParseError{Cause: err}
	}
	return method, params, nil
}

// DecodeMethodResponse parses an XML-RPC methodResponse document. A fault
// response is returned as a *Fault error; any other failure is a
// *ParseError.
func DecodeMethodResponse(data []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	result, fault, err := decodeMethodResponse(dec)
	if err != nil {
		return nil, &ParseError{Cause: err}
	}
	if fault != nil {
		return nil, fault
	}
	return result, nil
}

func decodeMethodResponse(dec *xml.Decoder) (any, *Fault, error) {
	root, err := nextStart(dec)
	if err != nil {
		return nil, nil, err
	}
	if root.Name.Local != "methodResponse" {
		return nil, nil, fmt.Errorf("unexpected root element <%s>", root.Name.Local)
	}
	start, err := nextStart(dec)
	if err != nil {
		return nil, nil, err
	}
	switch start.Name.Local {
	case "params":
		params, err := decodeParams(dec)
		if err != nil {
			return nil, nil, err
		}
		if len(params) != 1 {
			return nil, nil, fmt.Errorf("response has %d params, want 1", len(params))
		}
		if err := endDocument(dec, "methodResponse"); err != nil {
			return nil, nil, err
		}
		return params[0], nil, nil
	case "fault":
		v, err := decodeParam(dec)
		if err != nil {
			return nil, nil, err
		}
		f, err := faultFromValue(v)
		if err != nil {
			return nil, nil, err
		}
		if err := endDocument(dec, "methodResponse"); err != nil {
			return nil, nil, err
		}
		return nil, f, nil
	}
	return nil, nil, fmt.Errorf("unexpected element <%s> in methodResponse", start.Name.Local)
}

func faultFromValue(v any) (*Fault, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("fault value is not a struct")
	}
	code, ok := m["faultCode"].(int)
	if !ok {
		return nil, errors.New("fault without an int faultCode")
	}
	msg, ok := m["faultString"].(string)
	if !ok {
		return nil, errors.New("fault without a string faultString")
	}
	return &Fault{Code: code, String: msg}, nil
}

func decodeMethodCall(dec *xml.Decoder) (string, []any, error) {
	root, err := nextStart(dec)
	if err != nil {
		return "", nil, err
	}
	if root.Name.Local != "methodCall" {
		return "", nil, fmt.Errorf("unexpected root element <%s>", root.Name.Local)
	}

	var (
		method    string
		hasMethod bool
		params    []any
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "methodName":
				text, err := readText(dec)
				if err != nil {
					return "", nil, err
				}
				method = strings.TrimSpace(text)
				hasMethod = true
			case "params":
				params, err = decodeParams(dec)
				if err != nil {
					return "", nil, err
				}
			default:
				return "", nil, fmt.Errorf("unexpected element <%s> in methodCall", t.Name.Local)
			}
		case xml.EndElement:
			if !hasMethod {
				return "", nil, errors.New("missing methodName")
			}
			if params == nil {
				params = []any{}
			}
			if err := expectEOF(dec); err != nil {
				return "", nil, err
			}
			return method, params, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return "", nil, errors.New("unexpected text in methodCall")
			}
		}
	}
}

func decodeParams(dec *xml.Decoder) ([]any, error) {
	params := []any{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "param" {
				return nil, fmt.Errorf("unexpected element <%s> in params", t.Name.Local)
			}
			v, err := decodeParam(dec)
			if err != nil {
				return nil, err
			}
			params = append(params, v)
		case xml.EndElement:
			return params, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return nil, errors.New("unexpected text in params")
			}
		}
	}
}

func decodeParam(dec *xml.Decoder) (any, error) {
	var (
		v     any
		found bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "value" || found {
				return nil, fmt.Errorf("unexpected element <%s> in param", t.Name.Local)
			}
			v, err = decodeValue(dec, 0)
			if err != nil {
				return nil, err
			}
			found = true
		case xml.EndElement:
			if !found {
				return nil, errors.New("param without value")
			}
			return v, nil
		}
	}
}

// decodeValue decodes the content of a <value> element whose start tag
// has already been consumed, up to and including its end tag.
func decodeValue(dec *xml.Decoder, depth int) (any, error) {
	if depth > maxValueDepth {
		return nil, errors.New("value nesting too deep")
	}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			v, err := decodeTyped(dec, t, depth)
			if err != nil {
				return nil, err
			}
			if err := expectEnd(dec, "value"); err != nil {
				return nil, err
			}
			return v, nil
		case xml.EndElement:
			// A value without a type element is a string.
			return text.String(), nil
		}
	}
}

func decodeTyped(dec *xml.Decoder, start xml.StartElement, depth int) (any, error) {
	switch start.Name.Local {
	case "array":
		return decodeArray(dec, depth)
	case "struct":
		return decodeStruct(dec, depth)
	case "nil":
		if err := dec.Skip(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	text, err := readText(dec)
	if err != nil {
		return nil, err
	}
	switch start.Name.Local {
	case "int", "i4", "i8":
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil || n < math.MinInt || n > math.MaxInt {
			return nil, fmt.Errorf("bad integer %q", text)
		}
		return int(n), nil
	case "boolean":
		switch strings.TrimSpace(text) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("bad boolean %q", text)
	case "string":
		return text, nil
	case "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("bad double %q", text)
		}
		return f, nil
	case "dateTime.iso8601":
		return parseDateTime(strings.TrimSpace(text))
	case "base64":
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return nil, fmt.Errorf("bad base64: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown type <%s>", start.Name.Local)
}

func decodeArray(dec *xml.Decoder, depth int) (any, error) {
	items := []any{}
	inData := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "data" && !inData:
				inData = true
			case t.Name.Local == "value" && inData:
				v, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			default:
				return nil, fmt.Errorf("unexpected element <%s> in array", t.Name.Local)
			}
		case xml.EndElement:
			if t.Name.Local == "data" {
				inData = false
				continue
			}
			return items, nil
		}
	}
}

func decodeStruct(dec *xml.Decoder, depth int) (any, error) {
	members := map[string]any{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "member" {
				return nil, fmt.Errorf("unexpected element <%s> in struct", t.Name.Local)
			}
			name, v, err := decodeMember(dec, depth)
			if err != nil {
				return nil, err
			}
			members[name] = v
		case xml.EndElement:
			return members, nil
		}
	}
}

func decodeMember(dec *xml.Decoder, depth int) (string, any, error) {
	var (
		name              string
		v                 any
		hasName, hasValue bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				name, err = readText(dec)
				if err != nil {
					return "", nil, err
				}
				hasName = true
			case "value":
				v, err = decodeValue(dec, depth+1)
				if err != nil {
					return "", nil, err
				}
				hasValue = true
			default:
				return "", nil, fmt.Errorf("unexpected element <%s> in member", t.Name.Local)
			}
		case xml.EndElement:
			if !hasName || !hasValue {
				return "", nil, errors.New("struct member needs a name and a value")
			}
			return name, v, nil
		}
	}
}

// dateTimeLayouts are the dateTime.iso8601 forms seen in the wild; the
// first is the one defined by the XML-RPC specification.
var dateTimeLayouts = []string{
	"20060102T15:04:05",
	"20060102T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"20060102T150405",
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad dateTime.iso8601 %q", s)
}

// readText returns the character data of the current element and consumes
// its end tag. Nested elements are an error.
func readText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			return "", fmt.Errorf("unexpected element <%s> in scalar", t.Name.Local)
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

func expectEnd(dec *xml.Decoder, local string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return unexpectedEOF(err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			return fmt.Errorf("unexpected element <%s> in %s", t.Name.Local, local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return fmt.Errorf("unexpected text in %s", local)
			}
		}
	}
}

// endDocument consumes the end of the root element and the epilog.
func endDocument(dec *xml.Decoder, root string) error {
	if err := expectEnd(dec, root); err != nil {
		return err
	}
	return expectEOF(dec)
}

// expectEOF accepts only whitespace, comments and processing instructions
// after the root element.
func expectEOF(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf("unexpected element <%s> after document", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return errors.New("unexpected text after document")
			}
		}
	}
}

// nextStart skips the prolog and returns the root element.
func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, unexpectedEOF(err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
