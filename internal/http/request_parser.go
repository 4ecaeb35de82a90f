package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cpidash/internal/services"
)

// maxBodyBytes bounds query request bodies.
const maxBodyBytes = 64 << 10

// Query parameter names shared by the form, the API and the links.
const (
	paramCategories = "categories"
	paramStartDate  = "start_date"
	paramEndDate    = "end_date"
)

// QueryRequestFromValues reads a query request from URL or form values.
// Repeated "categories" keys keep their order.
func QueryRequestFromValues(v url.Values) services.QueryRequest {
	cats := make([]string, 0, len(v[paramCategories]))
	for _, c := range v[paramCategories] {
		cats = append(cats, sanitizeInput(c))
	}
	return services.QueryRequest{
		Categories: cats,
		StartDate:  sanitizeInput(v.Get(paramStartDate)),
		EndDate:    sanitizeInput(v.Get(paramEndDate)),
	}
}

// QueryValues is the inverse of QueryRequestFromValues, used to build the
// chart and export links for a rendered result.
func QueryValues(req services.QueryRequest) url.Values {
	v := url.Values{}
	for _, c := range req.Categories {
		v.Add(paramCategories, c)
	}
	v.Set(paramStartDate, req.StartDate)
	v.Set(paramEndDate, req.EndDate)
	return v
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.formData = url.Values{}
		return nil
	}

	if body[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal([]byte(body), &p.jsonData); err != nil {
			p.jsonData = nil
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(body)
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
		return ""
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// GetAll returns every value for key: a JSON array or string, or repeated
// form keys.
func (p *RequestBodyParser) GetAll(key string) []string {
	var out []string
	if p.jsonData != nil {
		switch val := p.jsonData[key].(type) {
		case []interface{}:
			for _, item := range val {
				out = append(out, sanitizeInput(stringValue(item)))
			}
		case nil:
		default:
			out = append(out, sanitizeInput(stringValue(val)))
		}
		return out
	}
	for _, v := range p.formData[key] {
		out = append(out, sanitizeInput(v))
	}
	return out
}

// QueryRequest builds a query request from the parsed body.
func (p *RequestBodyParser) QueryRequest() services.QueryRequest {
	return services.QueryRequest{
		Categories: p.GetAll(paramCategories),
		StartDate:  p.Get(paramStartDate),
		EndDate:    p.Get(paramEndDate),
	}
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *HTMXResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

// RequireGET is a convenience function for read-only handlers. HEAD is
// accepted alongside GET.
func RequireGET(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodGet, http.MethodHead)
}
