package message

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestWireNames(t *testing.T) {
	req := NewRequest(LanguageJava, "IA", "testMethod", []Parameter{
		{Type: "int", Value: json.RawMessage(`10`)},
		{Type: "String", Value: json.RawMessage(`"abc"`)},
	})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	want := `{"ver":"3","client":"Java","type":"IA","method":"testMethod","params":[{"type":"int","value":10},{"type":"String","value":"abc"}]}`
	if string(data) != want {
		t.Fatalf("request JSON mismatch:\n got %s\nwant %s", data, want)
	}
}

func TestResponseErrorChain(t *testing.T) {
	raw := `{"ver":"3","client":"CSharp","error":{"code":-32500,"message":"boom",
		"data":{"code":0,"source":"System.Exception","message":"outer","stack_trace":"at X",
		"inner_exception":{"code":0,"message":"inner"}}}}`

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Language != LanguageCSharp {
		t.Errorf("Language = %v, want CSharp", resp.Language)
	}
	if resp.Error == nil || resp.Error.Code != -32500 {
		t.Fatalf("Error = %+v", resp.Error)
	}
	if resp.Error.Data.InnerException == nil || resp.Error.Data.InnerException.Message != "inner" {
		t.Fatalf("inner exception lost: %+v", resp.Error.Data)
	}
}

func TestLanguageOrdinal(t *testing.T) {
	var l Language
	if err := json.Unmarshal([]byte(`1`), &l); err != nil || l != LanguageJava {
		t.Fatalf("ordinal decode = %v, %v", l, err)
	}
	if err := json.Unmarshal([]byte(`"Cobol"`), &l); err == nil {
		t.Fatal("expected error for unknown language")
	}
	if _, err := json.Marshal(Language(42)); err == nil {
		t.Fatal("expected error marshaling unknown language")
	}
}

func TestKind(t *testing.T) {
	if !KindRequest.Valid() || !KindResponse.Valid() || Kind(0).Valid() {
		t.Fatal("Kind.Valid mismatch")
	}
	if !strings.Contains(Kind(0x33).String(), "0x33") {
		t.Errorf("unexpected String for unknown kind: %s", Kind(0x33))
	}
}

func TestNewTagVaries(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		seen[NewTag()] = true
	}
	if len(seen) < 999 {
		t.Fatalf("NewTag produced too many collisions: %d distinct of 1000", len(seen))
	}
}
