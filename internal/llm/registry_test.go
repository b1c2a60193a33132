package llm

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

type namedCompleter struct {
	name string
	fn   CompleterFunc
}

func (n namedCompleter) Name() string { return n.name }
func (n namedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	return n.fn(ctx, req)
}

func TestRegistry_ResolveProviderPrefix(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(namedCompleter{"alpha", func(_ context.Context, req Request) (string, error) {
		return "alpha:" + req.Model, nil
	}})
	r.Register(namedCompleter{"beta", func(_ context.Context, req Request) (string, error) {
		return "beta:" + req.Model, nil
	}})

	got, err := r.Complete(context.Background(), "beta/some-model", Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "beta:some-model" {
		t.Errorf("Complete = %q, want beta:some-model", got)
	}
}

func TestRegistry_BareHintUsesDefault(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(namedCompleter{"alpha", func(_ context.Context, req Request) (string, error) {
		return "alpha:" + req.Model, nil
	}})

	got, err := r.Complete(context.Background(), "plain-model", Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "alpha:plain-model" {
		t.Errorf("Complete = %q, want alpha:plain-model", got)
	}
}

func TestRegistry_NoProviders(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Complete(context.Background(), "m", Request{}); err == nil {
		t.Error("expected error with no providers registered")
	}
}

func TestRegistry_ProviderErrorPropagates(t *testing.T) {
	r := NewRegistry(nil)
	sentinel := errors.New("provider down")
	r.Register(namedCompleter{"alpha", func(context.Context, Request) (string, error) {
		return "", sentinel
	}})

	if _, err := r.Complete(context.Background(), "", Request{}); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestRegistry_RotateModel(t *testing.T) {
	r := NewRegistry(rand.New(rand.NewSource(7)))

	if got := r.RotateModel("current"); got != "current" {
		t.Errorf("empty catalog rotation = %q, want current", got)
	}

	r.SetCatalog([]string{"a/m1", "b/m2"})
	for i := 0; i < 10; i++ {
		if got := r.RotateModel("a/m1"); got != "b/m2" {
			t.Fatalf("rotation returned %q, want the other catalog entry", got)
		}
	}
}
