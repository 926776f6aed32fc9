package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryInvoke(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("echo", func(_ context.Context, cfg, data map[string]any) (map[string]any, error) {
		return map[string]any{"cfg": cfg["v"], "data": data["v"]}, nil
	})
	reg.Register("", HandlerFunc(nil))
	reg.Register("nil", nil)

	out, err := reg.Invoke(context.Background(), "echo", map[string]any{"v": 1}, map[string]any{"v": 2})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["cfg"] != 1 || out["data"] != 2 {
		t.Fatalf("unexpected output: %#v", out)
	}
	if _, err := reg.Invoke(context.Background(), "nope", nil, nil); !errors.Is(err, ErrUnknownSubtype) {
		t.Fatalf("expected ErrUnknownSubtype, got %v", err)
	}
	if !reg.Has("echo") || reg.Has("nil") || reg.Has("") {
		t.Fatalf("unexpected registrations: %v", reg.Subtypes())
	}
	reg.RegisterFunc("alpha", okHandler(nil))
	if got := reg.Subtypes(); len(got) != 2 || got[0] != "alpha" || got[1] != "echo" {
		t.Fatalf("expected sorted subtypes, got %v", got)
	}
}

func TestRegistryPropagatesHandlerErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.RegisterFunc("fail", func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		return nil, boom
	})
	if _, err := reg.Invoke(context.Background(), "fail", nil, nil); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}
