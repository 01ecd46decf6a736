package envctl

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestImageTag_DeterministicOverContent(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	files := map[string]string{
		"Dockerfile": "FROM python:3.11\n",
		"worker.py":  "print('hello')\n",
	}
	writeTree(t, a, files)
	writeTree(t, b, files)

	tagA, err := ImageTag("dgrid", "grid_search", a)
	if err != nil {
		t.Fatalf("tag a: %v", err)
	}
	tagB, err := ImageTag("dgrid", "grid_search", b)
	if err != nil {
		t.Fatalf("tag b: %v", err)
	}
	if tagA != tagB {
		t.Fatalf("expected identical content to yield identical tags: %s vs %s", tagA, tagB)
	}
}

func TestImageTag_ChangesWithContent(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, map[string]string{"worker.py": "print('v1')\n"})
	writeTree(t, b, map[string]string{"worker.py": "print('v2')\n"})

	tagA, _ := ImageTag("dgrid", "grid_search", a)
	tagB, _ := ImageTag("dgrid", "grid_search", b)
	if tagA == tagB {
		t.Fatal("expected different content to yield different tags")
	}
}

func TestImageTag_LowercasesSubtaskKind(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"f.py": "x"})
	tag, err := ImageTag("dgrid", "GridSearch", dir)
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if filepath.Ext(tag) == "" && tag == "" {
		t.Fatal("expected non-empty tag")
	}
	if want := "dgrid/gridsearch:"; tag[:len(want)] != want {
		t.Fatalf("expected lowercased subtask kind prefix %q, got %q", want, tag)
	}
}
