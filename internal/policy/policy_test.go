package policy

import "testing"

func TestIsForbiddenInApp(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		file string
		size int64
		want bool
	}{
		{"csv", "secret.csv", 10, true},
		{"xlsx", "data.xlsx", 10, true},
		{"json", "payload.json", 10, true},
		{"small txt", "notes.txt", 100, false},
		{"big txt", "dump.txt", 60 * 1024, true},
		{"py script", "run.py", 10, false},
		{"unknown size txt", "notes.txt", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsForbiddenInApp(tt.file, tt.size); got != tt.want {
				t.Errorf("IsForbiddenInApp(%q, %d) = %v, want %v", tt.file, tt.size, got, tt.want)
			}
		})
	}
}

func TestIsForbiddenForSync(t *testing.T) {
	c := New()
	for _, ext := range []string{"a.pdf", "b.csv", "c.xlsx", "d.xls", "e.xlsm", "f.xlsb", "g.ppt", "h.pptx"} {
		if !c.IsForbiddenForSync(ext) {
			t.Errorf("IsForbiddenForSync(%q) = false, want true", ext)
		}
	}
	if c.IsForbiddenForSync("script.py") {
		t.Errorf("IsForbiddenForSync(script.py) = true, want false")
	}
}

func TestIsProtectedFromPush(t *testing.T) {
	c := New()
	if !c.IsProtectedFromPush("sync_server.py", false) {
		t.Error("sync_server.py should be protected")
	}
	if !c.IsProtectedFromPush("metadatafarmer.py", false) {
		t.Error("metadatafarmer.py should be protected")
	}
	if !c.IsProtectedFromPush("CLAUDE.md", false) {
		t.Error("CLAUDE.md should be protected")
	}
	if !c.IsProtectedFromPush("meta_data", true) {
		t.Error("meta_data dir should be protected")
	}
	if c.IsProtectedFromPush("x.py", false) {
		t.Error("x.py should not be protected")
	}
}

func TestIsIgnoredDir(t *testing.T) {
	c := New()
	for _, d := range []string{"node_modules", "__pycache__", ".git", ".venv", ".hidden"} {
		if !c.IsIgnoredDir(d) {
			t.Errorf("IsIgnoredDir(%q) = false, want true", d)
		}
	}
	if c.IsIgnoredDir("scripts") {
		t.Error("scripts should not be ignored")
	}
}

func TestSubtreeOf(t *testing.T) {
	c := New()
	tests := []struct {
		path string
		want Subtree
	}{
		{"input/a.csv", SubtreeInput},
		{"output/b.png", SubtreeOutput},
		{"app/scripts/run.py", SubtreeApp},
		{"README.md", SubtreeOther},
	}
	for _, tt := range tests {
		if got := c.SubtreeOf(tt.path); got != tt.want {
			t.Errorf("SubtreeOf(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
