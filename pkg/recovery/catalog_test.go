// SPDX-License-Identifier: Apache-2.0
package recovery

import (
	"os"
	"path/filepath"
	"testing"
)

const actionsYAML = `
actions:
  - id: restart-api
    name: Restart API
    type: restart
    priority: 8
    operation: restart_service
    enabled: true
    conditions:
      - metric: cpu
        operator: ">"
        threshold: 90
  - id: clear-cache
    name: Clear cache
    type: cache
    priority: 4
    operation: clear_cache
    enabled: true
`

func TestLoadCatalogYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(actionsYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(catalog.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(catalog.Actions))
	}
	restart := catalog.Actions[0]
	if restart.ID != "restart-api" || restart.Priority != 8 || len(restart.Conditions) != 1 {
		t.Fatalf("parsed action = %+v", restart)
	}
	if restart.Conditions[0].Metric != "cpu" || restart.Conditions[0].Threshold != 90 {
		t.Fatalf("parsed condition = %+v", restart.Conditions[0])
	}
}

func TestParseJSONCatalog(t *testing.T) {
	payload := []byte(`{
		"actions": [
			{
				"id": "scale-out",
				"name": "Scale out",
				"type": "scale",
				"priority": 6,
				"operation": "scale_out",
				"enabled": true
			}
		]
	}`)

	catalog, err := ParseJSON(payload)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(catalog.Actions) != 1 || catalog.Actions[0].ID != "scale-out" {
		t.Fatalf("catalog = %+v", catalog)
	}
}

func TestCatalogRejectsDuplicateIDs(t *testing.T) {
	catalog := &Catalog{Actions: []Action{
		{ID: "dup", Operation: "op", Priority: 5},
		{ID: "dup", Operation: "op", Priority: 5},
	}}
	if err := catalog.Validate(); err == nil {
		t.Fatal("duplicate ids passed validation")
	}
}

func TestCatalogRejectsInvalidAction(t *testing.T) {
	if _, err := ParseYAML([]byte("actions:\n  - id: broken\n    priority: 5\n")); err == nil {
		t.Fatal("action without operation passed validation")
	}
}
