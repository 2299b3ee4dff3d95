package hostfunc

import (
	"reflect"

	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// maxParams bounds registered functions to spec.md §4.7's newer-revision
// limit ("≤ 10 in newer revisions; ≤ 4 in earlier" — this module follows
// the newer, looser bound, consistent with SPEC_FULL §11's "newer revision"
// resolution elsewhere).
const maxParams = 10

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ptrType   = reflect.TypeOf(GuestPtr(0))
	bytesType = reflect.TypeOf([]byte(nil))
)

// paramSpec is one captured parameter slot: its wire Kind and the concrete
// Go type Call must receive.
type paramSpec struct {
	kind    memmgr.Kind
	goType  reflect.Type
}

// thunk is the one-time reflect.Type walk SPEC_FULL §4.7 calls for,
// captured once at Register time and replayed on every Invoke.
type thunk struct {
	fn         reflect.Value
	params     []paramSpec
	returnKind memmgr.Kind
	hasReturn  bool
	returnsErr bool
}

func goKindOf(t reflect.Type) (memmgr.Kind, bool) {
	switch {
	case t == ptrType:
		return memmgr.KindPtr, true
	case t == bytesType:
		return memmgr.KindBytes, true
	case t.Kind() == reflect.Int32:
		return memmgr.KindI32, true
	case t.Kind() == reflect.Int64:
		return memmgr.KindI64, true
	case t.Kind() == reflect.Uint64:
		return memmgr.KindU64, true
	case t.Kind() == reflect.Bool:
		return memmgr.KindBool, true
	case t.Kind() == reflect.String:
		return memmgr.KindString, true
	default:
		return 0, false
	}
}

// buildThunk validates fn's signature against the closed type set and
// arity bound, and captures the coercion table.
func buildThunk(fn any) (*thunk, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, &invalidRegistrationError{reason: "registered value is not a function"}
	}
	if t.NumIn() > maxParams {
		return nil, &invalidRegistrationError{reason: "too many parameters: max 10"}
	}

	params := make([]paramSpec, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		kind, ok := goKindOf(t.In(i))
		if !ok {
			return nil, &invalidRegistrationError{reason: "parameter " + t.In(i).String() + " is outside the closed {i32,i64,u64,bool,string,bytes,ptr} type set"}
		}
		params[i] = paramSpec{kind: kind, goType: t.In(i)}
	}

	th := &thunk{fn: v, params: params}

	switch t.NumOut() {
	case 0:
		// void return
	case 1:
		if t.Out(0) == errorType {
			th.returnsErr = true
		} else {
			kind, ok := goKindOf(t.Out(0))
			if !ok {
				return nil, &invalidRegistrationError{reason: "return type " + t.Out(0).String() + " is outside the closed type set"}
			}
			th.returnKind, th.hasReturn = kind, true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, &invalidRegistrationError{reason: "second return value must be error"}
		}
		kind, ok := goKindOf(t.Out(0))
		if !ok {
			return nil, &invalidRegistrationError{reason: "return type " + t.Out(0).String() + " is outside the closed type set"}
		}
		th.returnKind, th.hasReturn, th.returnsErr = kind, true, true
	default:
		return nil, &invalidRegistrationError{reason: "at most one value plus a trailing error may be returned"}
	}

	return th, nil
}

// coerceArg converts frame's argument i to the Go value params[i] expects,
// reading the raw slot as the registered parameter's kind. No widening is
// applied, but the slot's wire kind is not checked either (the frame has no
// per-slot tag): only string/bytes slots fail, when their table offset does
// not decode.
func (th *thunk) coerceArg(frame *memmgr.CallFrame, i int) (reflect.Value, error) {
	p := th.params[i]
	raw := frame.ArgRaw(i)

	switch p.kind {
	case memmgr.KindI32:
		return reflect.ValueOf(int32(uint32(raw))), nil
	case memmgr.KindI64:
		return reflect.ValueOf(int64(raw)), nil
	case memmgr.KindU64:
		return reflect.ValueOf(raw), nil
	case memmgr.KindPtr:
		return reflect.ValueOf(GuestPtr(raw)), nil
	case memmgr.KindBool:
		return reflect.ValueOf(raw != 0), nil
	case memmgr.KindString:
		s, err := frame.ArgString(i)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case memmgr.KindBytes:
		b, err := frame.ArgBytes(i)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	default:
		return reflect.Value{}, coerceErr("unreachable parameter kind %d", p.kind)
	}
}

// invoke runs the underlying Go function against frame's arguments, strictly
// coercing each one, and boxes the result back into a wire Value.
func (th *thunk) invoke(frame *memmgr.CallFrame) (memmgr.Value, error) {
	if frame.NumArgs() != len(th.params) {
		return memmgr.Value{}, coerceErr("arity mismatch: %s expects %d arguments, guest supplied %d",
			frame.FunctionName, len(th.params), frame.NumArgs())
	}

	args := make([]reflect.Value, len(th.params))
	for i := range th.params {
		v, err := th.coerceArg(frame, i)
		if err != nil {
			return memmgr.Value{}, err
		}
		args[i] = v
	}

	results := th.fn.Call(args)

	if th.returnsErr {
		errIdx := len(results) - 1
		if !results[errIdx].IsNil() {
			// A host function's own panic is recovered by the caller
			// (Registry.Invoke); here we only unwrap a returned error, matching
			// spec.md §4.6's "inner exception unwrapped if the language
			// signals a reflective-invoke wrapper" — reflect.Call never
			// wraps, so there is nothing further to unwrap in Go.
			return memmgr.Value{}, results[errIdx].Interface().(error)
		}
	}

	if !th.hasReturn {
		return memmgr.ValueVoid(), nil
	}
	return boxReturn(th.returnKind, results[0])
}

// kindChar maps a wire Kind to the signature-string character convention
// spec.md §6 defines for PEB function records: "(<param-chars>)<return-char>,
// i = i32, I = i64, $ = string, etc."
func kindChar(k memmgr.Kind) byte {
	switch k {
	case memmgr.KindI32:
		return 'i'
	case memmgr.KindI64:
		return 'I'
	case memmgr.KindU64:
		return 'U'
	case memmgr.KindBool:
		return 'b'
	case memmgr.KindString:
		return '$'
	case memmgr.KindBytes:
		return 'B'
	case memmgr.KindPtr:
		return 'p'
	default:
		return 'v'
	}
}

// signature renders th's PEB signature string.
func (th *thunk) signature() string {
	b := make([]byte, 0, len(th.params)+3)
	b = append(b, '(')
	for _, p := range th.params {
		b = append(b, kindChar(p.kind))
	}
	b = append(b, ')')
	if th.hasReturn {
		b = append(b, kindChar(th.returnKind))
	} else {
		b = append(b, 'v')
	}
	return string(b)
}

func boxReturn(kind memmgr.Kind, v reflect.Value) (memmgr.Value, error) {
	switch kind {
	case memmgr.KindI32:
		return memmgr.ValueI32(int32(v.Int())), nil
	case memmgr.KindI64:
		return memmgr.ValueI64(v.Int()), nil
	case memmgr.KindU64:
		return memmgr.ValueU64(v.Uint()), nil
	case memmgr.KindPtr:
		return memmgr.ValuePtr(uint64(v.Uint())), nil
	case memmgr.KindBool:
		return memmgr.ValueBool(v.Bool()), nil
	case memmgr.KindString:
		return memmgr.ValueString(v.String()), nil
	case memmgr.KindBytes:
		return memmgr.ValueBytes(v.Bytes()), nil
	default:
		return memmgr.Value{}, coerceErr("unreachable return kind %d", kind)
	}
}
