package tools

import (
	"context"
	"errors"
	"testing"

	"echoai/pkg/llm"
)

func noop(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func TestRegistryAdvertisementOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(ToolDefinition{Name: "alpha"}, noop)
	r.Register(ToolDefinition{Name: "beta"}, noop)
	r.Register(ToolDefinition{Name: "gamma"}, noop)

	defs := r.Schemas()
	want := []string{"alpha", "beta", "gamma"}
	if len(defs) != len(want) {
		t.Fatalf("schemas len = %d, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("schemas[%d] = %q, want %q", i, defs[i].Name, name)
		}
	}
}

func TestRegistryOverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register(ToolDefinition{Name: "alpha", Description: "v1"}, noop)
	r.Register(ToolDefinition{Name: "beta"}, noop)
	r.Register(ToolDefinition{Name: "alpha", Description: "v2"}, noop)

	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}

	defs := r.Schemas()
	if defs[0].Name != "alpha" || defs[0].Description != "v2" {
		t.Fatalf("schemas[0] = %+v, want updated alpha first", defs[0])
	}
	if defs[1].Name != "beta" {
		t.Fatalf("schemas[1] = %+v", defs[1])
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("missing")
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !errors.Is(err, llm.ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryDefinition(t *testing.T) {
	r := NewRegistry()
	r.Register(GetCurrentWeatherDefinition(), NewGetCurrentWeather())

	def, ok := r.Definition("get_current_weather")
	if !ok {
		t.Fatal("definition not found")
	}
	if !def.Parameters["location"].Required {
		t.Fatal("location should be required")
	}
	if def.Parameters["unit"].Required {
		t.Fatal("unit should be optional")
	}
}
