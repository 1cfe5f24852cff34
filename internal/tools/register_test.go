package tools

import (
	"testing"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
)

func TestRegisterAll(t *testing.T) {
	registry := agent.NewToolRegistry()
	if err := RegisterAll(registry, backend.NewMemoryBackend(), 10*time.Minute); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if registry.Len() != 6 {
		t.Errorf("registered %d tools, want 6", registry.Len())
	}
	catalog, dropped := registry.Catalog()
	var names []string
	for _, tool := range catalog {
		names = append(names, tool.Name())
	}
	want := []string{"lookup_status", "link_document", "create_declaration", "send_message"}
	if len(names) != len(want) || len(dropped) != 0 {
		t.Fatalf("catalog = %v dropped = %v", names, dropped)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("catalog[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}
