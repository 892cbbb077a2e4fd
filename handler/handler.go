// Package handler provides adapters to the groupcast.Handler type for
// functions with other signatures.
//
// Parameters may be []byte or string, or a type whose pointer supports one
// of the encoding.BinaryUnmarshaler or encoding.TextUnmarshaler interfaces.
//
// Results may be []byte or string, or any type that supports one of the
// encoding.BinaryMarshaler or encoding.TextMarshaler interfaces.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	"github.com/banyan-group/groupcast"
)

// reqContextKey is a context key for the request value passed to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request passed to the handler, or
// nil if ctx has no associated request. The context passed to a handler
// returned by this package always carries one.
func ContextRequest(ctx context.Context) *groupcast.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*groupcast.Request)
	}
	return nil
}

// ParamResultError adapts a function f that accepts parameters of type P
// and returns a result of type R and an error, to a groupcast.Handler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) groupcast.Handler {
	return func(ctx context.Context, req *groupcast.Request) ([]byte, error) {
		var p P
		if err := unmarshal(req.Data, &p); err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		r, err := f(hctx, p)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R without error, to a groupcast.Handler.
func ParamResult[P, R any](f func(context.Context, P) R) groupcast.Handler {
	return func(ctx context.Context, req *groupcast.Request) ([]byte, error) {
		var p P
		if err := unmarshal(req.Data, &p); err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		return marshal(f(hctx, p))
	}
}

// ParamError adapts a function f that accepts parameters of type P and
// returns only an error, to a groupcast.Handler.
func ParamError[P any](f func(context.Context, P) error) groupcast.Handler {
	return func(ctx context.Context, req *groupcast.Request) ([]byte, error) {
		var p P
		if err := unmarshal(req.Data, &p); err != nil {
			return nil, err
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		return nil, f(hctx, p)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to a groupcast.Handler.
func ResultError[R any](f func(context.Context) (R, error)) groupcast.Handler {
	return func(ctx context.Context, req *groupcast.Request) ([]byte, error) {
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		r, err := f(hctx)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
