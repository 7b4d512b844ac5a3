package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, args ...string) {
	t.Helper()
	c := New("test")
	c.SetArgs(append(args, "--silent"))
	if err := c.Run(); err != nil {
		t.Fatalf("wordalign %s: %v", strings.Join(args, " "), err)
	}
}

func TestTrainAlignEvaluate(t *testing.T) {
	dir := t.TempDir()
	de, en := filepath.Join(dir, "c.de"), filepath.Join(dir, "c.en")
	writeFile(t, de, "das haus\ndas buch\nein buch\n")
	writeFile(t, en, "the house\nthe book\na book\n")

	for _, kind := range []string{"file", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			cfgPath := filepath.Join(dir, kind+".yaml")
			writeFile(t, cfgPath, "train:\n  iterations: 2\nstore:\n  kind: "+kind+"\n")
			model, inverse := filepath.Join(dir, kind+".model"), filepath.Join(dir, kind+".inv")
			run(t, "train", "-c", cfgPath, "-f", de, "-e", en, "-o", model, "--inverse", inverse, "-w", "2")

			out := filepath.Join(dir, kind+".align")
			run(t, "align", "-c", cfgPath, "-m", model, "-f", de, "-e", en, "-o", out)
			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) != 3 {
				t.Fatalf("got %d alignment lines: %q", len(lines), data)
			}
			for i, l := range lines {
				if len(strings.Fields(l)) != 2 {
					t.Errorf("line %d = %q, want one link per foreign word", i, l)
				}
			}

			sym := filepath.Join(dir, kind+".sym")
			run(t, "align", "-c", cfgPath, "-m", model, "--inverse", inverse, "--symmetrize", "union",
				"-f", de, "-e", en, "-o", sym)
			if _, err := os.Stat(sym); err != nil {
				t.Fatal(err)
			}

			run(t, "evaluate", "-c", cfgPath, "-m", model, "-f", de, "-e", en, "-r", out)
			run(t, "inspect", "-c", cfgPath, "-m", model, "house", "unknown")
		})
	}
}

func TestTrainRejectsBadTable(t *testing.T) {
	dir := t.TempDir()
	de, en := filepath.Join(dir, "c.de"), filepath.Join(dir, "c.en")
	writeFile(t, de, "das haus\n")
	writeFile(t, en, "the house\n")
	c := New("test")
	c.SetArgs([]string{"train", "-f", de, "-e", en, "-o", filepath.Join(dir, "m"), "--table", "hashed", "--silent"})
	if err := c.Run(); err == nil {
		t.Error("expected error for unknown table strategy")
	}
}
