package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScanFolderInfersTypes(t *testing.T) {
	dir := t.TempDir()
	csv := "id,price,name\n1,9.50,widget\n2,11.00,gadget\n3,12,gizmo\n"
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	reports, err := ScanFolder(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]
	if r.RowCount != 3 {
		t.Errorf("expected 3 rows, got %d", r.RowCount)
	}
	want := map[string]string{"id": "int64", "price": "float64", "name": "object"}
	for _, col := range r.Columns {
		if want[col.Name] != col.DType {
			t.Errorf("column %s: got dtype %s, want %s", col.Name, col.DType, want[col.Name])
		}
	}
}

func TestScanFolderMissingDirIsNotAnError(t *testing.T) {
	reports, err := ScanFolder(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing folder, got %v", err)
	}
	if reports != nil {
		t.Errorf("expected nil reports, got %v", reports)
	}
}

func TestGenerateReportNoFiles(t *testing.T) {
	dir := t.TempDir()
	content, err := GenerateReport("Input", dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "No CSV files found.") {
		t.Errorf("expected no-files message, got %q", content)
	}
	if !strings.HasPrefix(content, "Input Folder Metadata\n") {
		t.Errorf("expected header, got %q", content)
	}
}

func TestGenerateAllWritesBothFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "input"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "input", "a.csv"), []byte("x\n1\n2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := GenerateAll(root); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"input_metadata.txt", "output_metadata.txt"} {
		path := filepath.Join(root, "app", "meta_data", name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestMergeKind(t *testing.T) {
	tests := []struct {
		a, b columnKind
		want columnKind
	}{
		{kindInt, kindInt, kindInt},
		{kindInt, kindFloat, kindFloat},
		{kindFloat, kindInt, kindFloat},
		{kindInt, kindString, kindString},
		{kindUnknown, kindInt, kindInt},
	}
	for _, tt := range tests {
		if got := mergeKind(tt.a, tt.b); got != tt.want {
			t.Errorf("mergeKind(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
