package tooling

import (
	"context"
	"testing"

	"github.com/xray-tool-bridge/core/internal/jsonutil"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

func TestInvoke_Success(t *testing.T) {
	f := NewFacade()
	f.Register(Tool{Name: "echo", Run: func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	}})

	result, failure := f.Invoke(context.Background(), "echo", jsonutil.RawMessage(`{"value":"hi"}`))
	if failure != nil {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if result != "hi" {
		t.Fatalf("got %#v", result)
	}
}

// TestInvoke_ErrorEnvelopeShape is invariant 5: every failure has
// exactly the two keys error and type.
func TestInvoke_ErrorEnvelopeShape(t *testing.T) {
	f := NewFacade()
	f.Register(Tool{Name: "fail", Run: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, &xrayerrors.ValidationError{Field: "x", Reason: "bad"}
	}})

	result, failure := f.Invoke(context.Background(), "fail", nil)
	if result != nil {
		t.Fatalf("expected nil result, got %#v", result)
	}
	if failure == nil {
		t.Fatal("expected a failure")
	}
	if failure.Type != xrayerrors.KindValidation {
		t.Fatalf("unexpected type %v", failure.Type)
	}

	encoded, err := jsonutil.Marshal(failure)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := jsonutil.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected exactly 2 keys, got %v", decoded)
	}
	if _, ok := decoded["error"]; !ok {
		t.Fatal("missing error key")
	}
	if _, ok := decoded["type"]; !ok {
		t.Fatal("missing type key")
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	f := NewFacade()
	_, failure := f.Invoke(context.Background(), "does_not_exist", nil)
	if failure == nil || failure.Type != xrayerrors.KindValidation {
		t.Fatalf("expected ValidationError, got %+v", failure)
	}
}

func TestInvoke_MalformedArguments(t *testing.T) {
	f := NewFacade()
	f.Register(Tool{Name: "noop", Run: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, nil
	}})
	_, failure := f.Invoke(context.Background(), "noop", jsonutil.RawMessage(`not json`))
	if failure == nil || failure.Type != xrayerrors.KindValidation {
		t.Fatalf("expected ValidationError, got %+v", failure)
	}
}

func TestInvoke_PanicIsCaught(t *testing.T) {
	f := NewFacade()
	f.Register(Tool{Name: "boom", Run: func(ctx context.Context, args map[string]any) (any, error) {
		panic("unexpected failure deep in a tool body")
	}})
	result, failure := f.Invoke(context.Background(), "boom", nil)
	if result != nil {
		t.Fatalf("expected nil result, got %#v", result)
	}
	if failure == nil {
		t.Fatal("expected a failure envelope, not a propagated panic")
	}
}
