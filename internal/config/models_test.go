package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validModels = `
version: 1
models:
  - name: plot
    fields:
      - name: address
        kind: string
        required: true
      - name: width
        kind: float
  - name: tree
    depends_on: [plot]
    fields:
      - name: plot
        kind: ref
        ref_type: plot
        required: true
      - name: species
        kind: string
  - name: tree_photo
    depends_on: [tree]
    owner_model: tree
    owner_field: photos
    fields:
      - name: tree
        kind: ref
        ref_type: tree
        required: true
      - name: image
        kind: string
        required: true
`

func writeModels(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeModels(t, validModels))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(reg.DependencyOrder(), ","); got != "plot,tree,tree_photo" {
		t.Fatalf("order = %s", got)
	}
	meta, err := reg.Resolve("tree_photo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if meta.OwnerModel != "tree" || meta.OwnerField != "photos" {
		t.Fatalf("owner = %s.%s", meta.OwnerModel, meta.OwnerField)
	}
	if got := strings.Join(reg.VirtualFieldsOf("tree"), ","); got != "photos" {
		t.Fatalf("virtual = %s", got)
	}
}

func TestLoadRegistry_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing file version", strings.Replace(validModels, "version: 1", "version: 3", 1)},
		{"no models", "version: 1\nmodels: []\n"},
		{"unknown kind", strings.Replace(validModels, "kind: float", "kind: decimal", 1)},
		{"dangling ref", strings.Replace(validModels, "ref_type: plot", "ref_type: parcel", 1)},
		{"not yaml", "version: [1\n"},
	}
	for _, tt := range tests {
		if _, err := LoadRegistry(writeModels(t, tt.content)); err == nil {
			t.Fatalf("%s: accepted", tt.name)
		}
	}
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}
