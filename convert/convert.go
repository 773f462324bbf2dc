// Package convert reconciles naming differences between runtimes.
//
// A request names its method and parameter types the way the caller's
// language does: a Java peer calls "getA" with an "int", a C# peer calls
// "GetA" with an "Int32". The converters for the caller's language map
// those names onto Go methods and types.
package convert

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"xrpc/message"
)

// TypeConverter names Go types the way one language does.
type TypeConverter interface {
	// Name returns the name of t in the target language.
	Name(t reflect.Type) string
	// Equal reports whether name denotes t in the target language.
	Equal(t reflect.Type, name string) bool
}

// MethodConverter maps method names of one language onto Go method names.
type MethodConverter interface {
	// Local returns the Go name of the method called remote.
	Local(remote string) string
}

// Converters is the pair of converters used for one language.
type Converters struct {
	Type   TypeConverter
	Method MethodConverter
}

// Config selects converters by language.
type Config map[message.Language]Converters

// Default returns the converters for every supported language.
func Default() Config {
	return Config{
		message.LanguageJava:   {Type: Java, Method: JavaMethods},
		message.LanguageCSharp: {Type: CSharp, Method: CSharpMethods},
		message.LanguageGo:     {Type: Go, Method: GoMethods},
	}
}

// For returns the converters for lang.
func (c Config) For(lang message.Language) (Converters, bool) {
	conv, ok := c[lang]
	if !ok || conv.Type == nil || conv.Method == nil {
		return Converters{}, false
	}
	return conv, true
}

// Table names builtin kinds through a fixed table. Anything else falls back
// to its simple name: named types drop their package, pointers are
// dereferenced, and slices and arrays append "[]" to their element.
type Table struct {
	Kinds map[reflect.Kind]string
}

var (
	Java = Table{Kinds: map[reflect.Kind]string{
		reflect.Int8:    "byte",
		reflect.Uint8:   "byte",
		reflect.Uint16:  "char",
		reflect.Int16:   "short",
		reflect.Int32:   "int",
		reflect.Uint32:  "int",
		reflect.Int:     "long",
		reflect.Int64:   "long",
		reflect.Uint:    "long",
		reflect.Uint64:  "long",
		reflect.Float32: "float",
		reflect.Float64: "double",
		reflect.Bool:    "boolean",
		reflect.String:  "String",
	}}

	CSharp = Table{Kinds: map[reflect.Kind]string{
		reflect.Int8:    "Byte",
		reflect.Uint8:   "Byte",
		reflect.Uint16:  "Char",
		reflect.Int16:   "Int16",
		reflect.Int32:   "Int32",
		reflect.Uint32:  "Int32",
		reflect.Int:     "Int64",
		reflect.Int64:   "Int64",
		reflect.Uint:    "Int64",
		reflect.Uint64:  "Int64",
		reflect.Float32: "Single",
		reflect.Float64: "Double",
		reflect.Bool:    "Boolean",
		reflect.String:  "String",
	}}
)

func (tb Table) Name(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name, ok := tb.Kinds[t.Kind()]; ok && t.PkgPath() == "" {
		return name
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if t.Name() == "" {
			return tb.Name(t.Elem()) + "[]"
		}
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func (tb Table) Equal(t reflect.Type, name string) bool {
	return tb.Name(t) == name
}

// goTypes names types with Go syntax and no package qualifiers.
type goTypes struct{}

// Go is the type converter for Go peers.
var Go TypeConverter = goTypes{}

func (goTypes) Name(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	switch t.Kind() {
	case reflect.Slice:
		return "[]" + goTypes{}.Name(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + goTypes{}.Name(t.Elem())
	case reflect.Map:
		return "map[" + goTypes{}.Name(t.Key()) + "]" + goTypes{}.Name(t.Elem())
	}
	return t.String()
}

func (g goTypes) Equal(t reflect.Type, name string) bool {
	return g.Name(t) == name
}

// MethodFunc adapts a function to MethodConverter.
type MethodFunc func(remote string) string

func (f MethodFunc) Local(remote string) string {
	return f(remote)
}

var (
	// JavaMethods exports camel-case Java names: getA becomes GetA.
	JavaMethods MethodConverter = MethodFunc(upperFirst)

	// CSharpMethods maps property accessors get_X and set_X to GetX and
	// SetX. Other C# names are already exported.
	CSharpMethods MethodConverter = MethodFunc(func(remote string) string {
		for _, prefix := range []string{"get_", "set_"} {
			if prop, ok := strings.CutPrefix(remote, prefix); ok && prop != "" {
				return upperFirst(prefix[:3]) + upperFirst(prop)
			}
		}
		return upperFirst(remote)
	})

	// GoMethods is the identity.
	GoMethods MethodConverter = MethodFunc(func(remote string) string { return remote })
)

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
