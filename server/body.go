package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// decode errors; the engine answers them with the not-found response
var (
	ErrNoBoundary     = errors.New("multipart boundary missing")
	ErrMalformedPart  = errors.New("malformed multipart part")
	ErrMalformedJSON  = errors.New("malformed json body")
	ErrUnexpectedJSON = errors.New("json body is not an object")
)

// DecodeBody decodes a request body into Content, chosen by a substring of
// the Content-Type header: multipart, json, or url-encoded form otherwise.
func DecodeBody(contentType string, body []byte) (Content, error) {
	if len(body) == 0 {
		return Content{}, nil
	}

	switch {
	case strings.Contains(contentType, "multipart"):
		return parseMultipart(contentType, body)
	case strings.Contains(contentType, "json"):
		return parseJSONBody(body)
	default:
		return parseKeyValuePairs(string(body)), nil
	}
}

// parseJSONBody decodes a JSON object, keeping value types as decoded
func parseJSONBody(body []byte) (Content, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrUnexpectedJSON
	}
	return Content(obj), nil
}

// boundaryOf extracts the boundary parameter of a multipart content type
func boundaryOf(contentType string) (string, error) {
	_, params, _ := strings.Cut(contentType, ";")
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "boundary") {
			continue
		}
		value = strings.Trim(value, `"`)
		if value != "" {
			return value, nil
		}
	}
	return "", ErrNoBoundary
}

// parseMultipart splits a multipart/form-data body on --boundary. Text
// fields decode to strings, fields carrying a filename to raw bytes.
func parseMultipart(contentType string, body []byte) (Content, error) {
	boundary, err := boundaryOf(contentType)
	if err != nil {
		return nil, err
	}
	delimiter := []byte("--" + boundary)
	if !bytes.Contains(body, delimiter) {
		return nil, fmt.Errorf("%w: boundary %q not found in body", ErrMalformedPart, boundary)
	}

	content := make(Content)
	parts := bytes.Split(body, delimiter)
	// parts[0] is the preamble
	for _, part := range parts[1:] {
		part = bytes.TrimPrefix(part, lineDelimiter)
		part = bytes.TrimSuffix(part, lineDelimiter)
		if len(part) == 0 || bytes.HasPrefix(part, []byte("--")) {
			continue
		}

		name, value, err := parsePart(part)
		if err != nil {
			return nil, err
		}
		content[name] = value
	}
	return content, nil
}

// parsePart decodes one multipart section into its field name and value
func parsePart(part []byte) (string, any, error) {
	rawHeader, partBody, ok := bytes.Cut(part, headerDelimiter)
	if !ok {
		return "", nil, fmt.Errorf("%w: no header delimiter", ErrMalformedPart)
	}

	headers := parseHeadersFromBytes(bytes.Split(rawHeader, lineDelimiter))
	disposition, ok := headers["Content-Disposition"]
	if !ok {
		return "", nil, fmt.Errorf("%w: missing Content-Disposition", ErrMalformedPart)
	}

	params := dispositionParams(disposition)
	name, ok := params["name"]
	if !ok || name == "" {
		return "", nil, fmt.Errorf("%w: missing field name", ErrMalformedPart)
	}

	if _, isFile := params["filename"]; isFile {
		data := make([]byte, len(partBody))
		copy(data, partBody)
		return name, data, nil
	}
	return name, string(partBody), nil
}

// dispositionParams parses `form-data; name="a"; filename="b"` into its
// key=value items, quotes stripped
func dispositionParams(disposition string) map[string]string {
	params := make(map[string]string, 2)
	for _, item := range strings.Split(disposition, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(key)] = strings.Trim(value, `"`)
	}
	return params
}
