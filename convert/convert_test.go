package convert

import (
	"reflect"
	"testing"

	"xrpc/message"
)

type Point struct{ X, Y int }

type Celsius float64

func TestTypeNames(t *testing.T) {
	cases := []struct {
		v                  any
		java, csharp, goes string
	}{
		{int32(0), "int", "Int32", "int32"},
		{int64(0), "long", "Int64", "int64"},
		{0, "long", "Int64", "int"},
		{int16(0), "short", "Int16", "int16"},
		{uint8(0), "byte", "Byte", "uint8"},
		{uint16(0), "char", "Char", "uint16"},
		{float32(0), "float", "Single", "float32"},
		{1.5, "double", "Double", "float64"},
		{true, "boolean", "Boolean", "bool"},
		{"", "String", "String", "string"},
		{[]int32{}, "int[]", "Int32[]", "[]int32"},
		{[]byte{}, "byte[]", "Byte[]", "[]uint8"},
		{Point{}, "Point", "Point", "Point"},
		{&Point{}, "Point", "Point", "Point"},
		{[]*Point{}, "Point[]", "Point[]", "[]Point"},
		{Celsius(0), "Celsius", "Celsius", "Celsius"},
		{map[string]int{}, "map[string]int", "map[string]int", "map[string]int"},
	}
	for _, tc := range cases {
		typ := reflect.TypeOf(tc.v)
		if got := Java.Name(typ); got != tc.java {
			t.Errorf("Java.Name(%v) = %q, want %q", typ, got, tc.java)
		}
		if got := CSharp.Name(typ); got != tc.csharp {
			t.Errorf("CSharp.Name(%v) = %q, want %q", typ, got, tc.csharp)
		}
		if got := Go.Name(typ); got != tc.goes {
			t.Errorf("Go.Name(%v) = %q, want %q", typ, got, tc.goes)
		}
	}

	if !Java.Equal(reflect.TypeOf(int32(0)), "int") || Java.Equal(reflect.TypeOf(int32(0)), "Int32") {
		t.Error("Java.Equal mismatch")
	}
}

func TestMethodNames(t *testing.T) {
	cases := []struct {
		conv   MethodConverter
		remote string
		want   string
	}{
		{JavaMethods, "getA", "GetA"},
		{JavaMethods, "GetA", "GetA"},
		{JavaMethods, "", ""},
		{CSharpMethods, "GetA", "GetA"},
		{CSharpMethods, "get_Name", "GetName"},
		{CSharpMethods, "set_name", "SetName"},
		{CSharpMethods, "get_", "Get_"},
		{GoMethods, "getA", "getA"},
	}
	for _, tc := range cases {
		if got := tc.conv.Local(tc.remote); got != tc.want {
			t.Errorf("Local(%q) = %q, want %q", tc.remote, got, tc.want)
		}
	}
}

func TestConfigFor(t *testing.T) {
	cfg := Default()
	for _, lang := range []message.Language{message.LanguageJava, message.LanguageCSharp, message.LanguageGo} {
		if _, ok := cfg.For(lang); !ok {
			t.Errorf("no converters for %v", lang)
		}
	}
	if _, ok := (Config{}).For(message.LanguageJava); ok {
		t.Error("empty config should have no converters")
	}
}
