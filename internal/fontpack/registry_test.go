package fontpack

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	inter := &Font{Entry: Entry{Name: "Inter"}, ID: 3}
	mono := &Font{Entry: Entry{Name: "Mono"}, ID: 1}

	if err := r.Register(inter); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := r.Register(mono); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	var dup *FontAlreadyRegisteredError
	if err := r.Register(&Font{Entry: Entry{Name: "Inter"}, ID: 9}); !errors.As(err, &dup) {
		t.Errorf("expected FontAlreadyRegisteredError, got %v", err)
	}

	if f, ok := r.Lookup(1); !ok || f.Name != "Mono" {
		t.Errorf("Lookup(1) = %v, %v", f, ok)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
		t.Errorf("List() not ordered by id: %v", list)
	}

	r.Remove("Inter")
	if _, ok := r.Get("Inter"); ok {
		t.Error("Inter should be removed")
	}
	if _, ok := r.Lookup(3); ok {
		t.Error("id 3 should be removed")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}
