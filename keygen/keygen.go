// Package keygen derives cache keys from function call arguments.
//
// A function key has the form
//
//	<namespace>|<arg1> <arg2> ...
//
// where the arguments are bound to the function's parameter names first, so
// positional, keyword and defaulted spellings of the same call produce the
// same key. Multi keys (one per argument) have the form <namespace>|<arg>.
//
// Each argument renders to a single space-free token: strings are quoted and
// other values carry a type tag (i:1, f:2.5, b:true, t:<RFC3339 UTC>), so
// calls that differ in type or in where spaces fall never share a key.
package keygen

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var (
	ErrTooManyArguments   = errors.New("keygen: too many positional arguments")
	ErrUnknownKeyword     = errors.New("keygen: unexpected keyword argument")
	ErrDuplicateArg       = errors.New("keygen: argument given both positionally and by keyword")
	ErrMissingArgument    = errors.New("keygen: missing required argument")
	ErrKeywordsNotAllowed = errors.New("keygen: keyword arguments not supported")
	ErrUnknownDefault     = errors.New("keygen: default for a parameter not in the signature")
)

// Signature names a function's parameters in declaration order and the
// defaults of the optional ones. The zero Signature accepts any number of
// positional arguments and no keywords.
type Signature struct {
	Params   []string
	Defaults map[string]any
}

// Params builds a Signature with required parameters.
func Params(names ...string) Signature {
	return Signature{Params: names}
}

// WithDefault returns a copy of s in which name is optional with default v.
// A name not yet in Params is appended as the last parameter.
func (s Signature) WithDefault(name string, v any) Signature {
	if !s.has(name) {
		s.Params = append(s.Params[:len(s.Params):len(s.Params)], name)
	}
	d := make(map[string]any, len(s.Defaults)+1)
	for k, dv := range s.Defaults {
		d[k] = dv
	}
	d[name] = v
	s.Defaults = d
	return s
}

func (s Signature) has(name string) bool {
	for _, p := range s.Params {
		if p == name {
			return true
		}
	}
	return false
}

// Bind maps positional and keyword arguments onto the parameter list and
// fills in defaults. The result is ordered like s.Params.
func (s Signature) Bind(positional []any, kw map[string]any) ([]any, error) {
	for name := range s.Defaults {
		if !s.has(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDefault, name)
		}
	}
	if len(s.Params) == 0 {
		if len(kw) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKeyword, firstKey(kw))
		}
		return positional, nil
	}
	if len(positional) > len(s.Params) {
		return nil, fmt.Errorf("%w: takes %d, got %d", ErrTooManyArguments, len(s.Params), len(positional))
	}

	index := make(map[string]int, len(s.Params))
	for i, p := range s.Params {
		index[p] = i
	}
	for k := range kw {
		i, ok := index[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKeyword, k)
		}
		if i < len(positional) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateArg, k)
		}
	}

	out := make([]any, len(s.Params))
	copy(out, positional)
	for i := len(positional); i < len(s.Params); i++ {
		name := s.Params[i]
		if v, ok := kw[name]; ok {
			out[i] = v
			continue
		}
		if v, ok := s.Defaults[name]; ok {
			out[i] = v
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	return out, nil
}

// Namespace joins a function name with an optional user namespace.
func Namespace(fnName, namespace string) string {
	if namespace == "" {
		return fnName
	}
	return fnName + "|" + namespace
}

// FunctionKey binds the call and renders its key.
func FunctionKey(namespace string, sig Signature, positional []any, kw map[string]any) (string, error) {
	bound, err := sig.Bind(positional, kw)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(bound))
	for i, v := range bound {
		parts[i] = ToString(v)
	}
	return namespace + "|" + strings.Join(parts, " "), nil
}

// MultiKeys renders one key per argument. Keywords are rejected.
func MultiKeys(namespace string, args []any, kw map[string]any) ([]string, error) {
	if len(kw) > 0 {
		return nil, ErrKeywordsNotAllowed
	}
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = namespace + "|" + ToString(a)
	}
	return keys, nil
}

// ToString renders a single argument as one key token.
//
// Pointers are followed and keyed by the value they point to; a nil pointer
// renders like nil. Values without a dedicated rendering are printed with %+v
// and quoted behind their type name, so they must not hold pointers or
// channels whose addresses would differ between processes.
func ToString(v any) string {
	if v == nil {
		return "None"
	}
	orig := v
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return "None"
			}
			rv = rv.Elem()
		}
		v = rv.Interface()
	}

	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case int, int8, int16, int32, int64:
		return "i:" + cast.ToString(x)
	case uint, uint8, uint16, uint32, uint64:
		return "u:" + cast.ToString(x)
	case float32:
		return "f:" + strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return "d:" + x.String()
	case fmt.Stringer:
		return fmt.Sprintf("%T:%s", x, strconv.Quote(x.String()))
	}
	if s, ok := orig.(fmt.Stringer); ok {
		return fmt.Sprintf("%T:%s", v, strconv.Quote(s.String()))
	}
	return fmt.Sprintf("%T:%s", v, strconv.Quote(fmt.Sprintf("%+v", v)))
}

func firstKey(m map[string]any) string {
	for k := range m {
		return k
	}
	return ""
}
