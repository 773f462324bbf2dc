package message

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the envelope version written by this runtime.
const Version = "3"

// Language identifies the runtime a peer is written in. It selects the
// naming rules used to match its requests against local methods.
type Language int

const (
	LanguageCSharp Language = iota
	LanguageJava
	LanguageGo
)

var languageNames = map[Language]string{
	LanguageCSharp: "CSharp",
	LanguageJava:   "Java",
	LanguageGo:     "Go",
}

func (l Language) String() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return "Language(" + strconv.Itoa(int(l)) + ")"
}

// ParseLanguage maps a language name to its value.
func ParseLanguage(name string) (Language, error) {
	for l, n := range languageNames {
		if n == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("message: unknown language %q", name)
}

// MarshalJSON writes the language as its name, the form Java peers emit.
func (l Language) MarshalJSON() ([]byte, error) {
	name, ok := languageNames[l]
	if !ok {
		return nil, fmt.Errorf("message: unknown language %d", int(l))
	}
	return json.Marshal(name)
}

// UnmarshalJSON accepts either the name or the ordinal.
func (l *Language) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		v, err := ParseLanguage(name)
		if err != nil {
			return err
		}
		*l = v
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message: invalid language %s", data)
	}
	if _, ok := languageNames[Language(n)]; !ok {
		return fmt.Errorf("message: unknown language %d", n)
	}
	*l = Language(n)
	return nil
}

// Parameter is one argument of a call: the declared type name, in the
// sender's naming convention, and the JSON-encoded value.
type Parameter struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Request is the envelope of a call.
type Request struct {
	Version    string      `json:"ver"`
	Language   Language    `json:"client"`
	Type       string      `json:"type"`
	Method     string      `json:"method"`
	Parameters []Parameter `json:"params"`
}

// Response is the envelope of a call's outcome. Parameters echo the
// arguments after the call so that out parameters can be copied back.
type Response struct {
	Version    string          `json:"ver"`
	Language   Language        `json:"client"`
	Result     json.RawMessage `json:"result,omitempty"`
	Parameters []Parameter     `json:"params,omitempty"`
	Error      *ResponseError  `json:"error,omitempty"`
}

// ResponseError describes a failed call.
type ResponseError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData mirrors one link of the callee's error chain.
type ErrorData struct {
	Code           int        `json:"code"`
	Source         string     `json:"source,omitempty"`
	Message        string     `json:"message"`
	StackTrace     string     `json:"stack_trace,omitempty"`
	InnerException *ErrorData `json:"inner_exception,omitempty"`
}

// NewRequest returns a request envelope stamped with the current version.
func NewRequest(lang Language, typeName, method string, params []Parameter) *Request {
	if params == nil {
		params = []Parameter{}
	}
	return &Request{
		Version:    Version,
		Language:   lang,
		Type:       typeName,
		Method:     method,
		Parameters: params,
	}
}

// NewErrorResponse returns a response that carries only an error.
func NewErrorResponse(lang Language, e *ResponseError) *Response {
	return &Response{Version: Version, Language: lang, Error: e}
}
