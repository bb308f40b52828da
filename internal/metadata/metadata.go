// Package metadata builds the textual per-folder metadata reports under
// app/meta_data/, the Go equivalent of the project's metadatafarmer.py
// scaffold script, triggered by debounced data-change events and by
// explicit request (spec §4.9).
package metadata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultScaffold is written to app/metadatafarmer.py when a newly
// selected project doesn't already have one, matching the reference
// tool's own scan/format/write shape so a user who opens it finds
// familiar, editable code rather than a generated stub.
const DefaultScaffold = `import os
import csv
from datetime import datetime

BASE_DIR = os.path.dirname(os.path.dirname(os.path.abspath(__file__)))
INPUT_FOLDER = os.path.join(BASE_DIR, 'input')
OUTPUT_FOLDER = os.path.join(BASE_DIR, 'output')
META_DATA_FOLDER = os.path.join(BASE_DIR, 'app', 'meta_data')


def scan_folder(folder_path):
    if not os.path.exists(folder_path):
        return f"Folder does not exist: {folder_path}"

    csv_files = []
    for root, dirs, files in os.walk(folder_path):
        for filename in files:
            if filename.lower().endswith('.csv'):
                csv_files.append(os.path.join(root, filename))

    if not csv_files:
        return "No CSV files found."

    results = []
    for filepath in sorted(csv_files):
        rel_path = os.path.relpath(filepath, folder_path)
        try:
            with open(filepath, newline='', encoding='utf-8') as f:
                reader = csv.reader(f)
                header = next(reader)
                row_count = sum(1 for _ in reader)
            results.append(
                f"File: {rel_path}\n"
                f"  Rows: {row_count}\n"
                f"  Columns ({len(header)}): {', '.join(header)}"
            )
        except Exception as e:
            results.append(f"File: {rel_path}\n  Error: {e}")

    return '\n\n'.join(results)


def main():
    os.makedirs(META_DATA_FOLDER, exist_ok=True)
    timestamp = datetime.now().strftime("%Y-%m-%d %H:%M:%S")

    for label, folder in (("Input", INPUT_FOLDER), ("Output", OUTPUT_FOLDER)):
        content = scan_folder(folder)
        out_path = os.path.join(META_DATA_FOLDER, f"{label.lower()}_metadata.txt")
        with open(out_path, 'w') as f:
            f.write(f"{label} Folder Metadata\n")
            f.write(f"Generated: {timestamp}\n")
            f.write("=" * 50 + "\n\n")
            f.write(content)


if __name__ == '__main__':
    main()
`

// FileReport is one file's scanned metadata.
type FileReport struct {
	RelPath    string
	SizeBytes  int64
	RowCount   int
	Columns    []ColumnInfo
	ScanError  string
}

// ColumnInfo is a single CSV column's inferred type.
type ColumnInfo struct {
	Name  string
	DType string
}

// ScanFolder recursively finds CSV files under folderPath and reports
// per-file metadata, in sorted relative-path order.
func ScanFolder(folderPath string) ([]FileReport, error) {
	info, err := os.Stat(folderPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folderPath)
	}

	var csvPaths []string
	err = filepath.Walk(folderPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			csvPaths = append(csvPaths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(csvPaths)

	reports := make([]FileReport, 0, len(csvPaths))
	for _, path := range csvPaths {
		rel, _ := filepath.Rel(folderPath, path)
		report := FileReport{RelPath: filepath.ToSlash(rel)}

		fi, statErr := os.Stat(path)
		if statErr == nil {
			report.SizeBytes = fi.Size()
		}

		cols, rows, scanErr := scanCSV(path)
		if scanErr != nil {
			report.ScanError = scanErr.Error()
		} else {
			report.Columns = cols
			report.RowCount = rows
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// scanCSV reads the header and up to sampleRows data rows to infer each
// column's dtype (int, float, or string, mirroring the coarse dtype
// classes the reference tool reported via pandas), then counts the
// remaining rows without holding them in memory.
const sampleRows = 100

func scanCSV(path string) ([]ColumnInfo, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	columns := make([]ColumnInfo, len(header))
	kinds := make([]columnKind, len(header))
	for i, name := range header {
		columns[i] = ColumnInfo{Name: name, DType: "object"}
		kinds[i] = kindUnknown
	}

	rowCount := 0
	for {
		record, readErr := r.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return columns, rowCount, readErr
		}
		rowCount++
		if rowCount <= sampleRows {
			for i, val := range record {
				if i >= len(kinds) {
					continue
				}
				kinds[i] = mergeKind(kinds[i], classifyValue(val))
			}
		}
	}

	for i, kind := range kinds {
		columns[i].DType = kind.dtype()
	}
	return columns, rowCount, nil
}

type columnKind int

const (
	kindUnknown columnKind = iota
	kindInt
	kindFloat
	kindString
)

func (k columnKind) dtype() string {
	switch k {
	case kindInt:
		return "int64"
	case kindFloat:
		return "float64"
	case kindString:
		return "object"
	default:
		return "object"
	}
}

func classifyValue(val string) columnKind {
	val = strings.TrimSpace(val)
	if val == "" {
		return kindUnknown
	}
	if _, err := strconv.ParseInt(val, 10, 64); err == nil {
		return kindInt
	}
	if _, err := strconv.ParseFloat(val, 64); err == nil {
		return kindFloat
	}
	return kindString
}

func mergeKind(a, b columnKind) columnKind {
	if a == kindUnknown {
		return b
	}
	if b == kindUnknown {
		return a
	}
	if a == b {
		return a
	}
	if (a == kindInt && b == kindFloat) || (a == kindFloat && b == kindInt) {
		return kindFloat
	}
	return kindString
}

// FormatReport renders one file's report in the same human-readable
// shape as the reference tool's format_file_metadata.
func FormatReport(r FileReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", r.RelPath)
	if r.ScanError != "" {
		fmt.Fprintf(&b, "  Error: %s\n", r.ScanError)
		return strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "  Size: %.2f MB\n", float64(r.SizeBytes)/(1024*1024))
	fmt.Fprintf(&b, "  Rows: %d\n", r.RowCount)
	fmt.Fprintf(&b, "  Columns (%d):\n", len(r.Columns))
	for _, col := range r.Columns {
		fmt.Fprintf(&b, "    - %s (%s)\n", col.Name, col.DType)
	}
	return strings.TrimRight(b.String(), "\n")
}

// GenerateReport builds the full text for one labeled folder
// (Input/Output), matching metadatafarmer.py's header-plus-body layout.
func GenerateReport(label, folderPath string) (string, error) {
	reports, err := ScanFolder(folderPath)
	if err != nil {
		return "", err
	}

	var body string
	if len(reports) == 0 {
		if _, statErr := os.Stat(folderPath); os.IsNotExist(statErr) {
			body = fmt.Sprintf("Folder does not exist: %s", folderPath)
		} else {
			body = "No CSV files found."
		}
	} else {
		parts := make([]string, len(reports))
		for i, r := range reports {
			parts[i] = FormatReport(r)
		}
		body = strings.Join(parts, "\n\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Folder Metadata\n", label)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String(), nil
}

// GenerateAll scans input/ and output/ under projectRoot and writes
// app/meta_data/{input,output}_metadata.txt.
func GenerateAll(projectRoot string) error {
	metaDir := filepath.Join(projectRoot, "app", "meta_data")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return err
	}

	for _, pair := range []struct{ label, dir, file string }{
		{"Input", filepath.Join(projectRoot, "input"), "input_metadata.txt"},
		{"Output", filepath.Join(projectRoot, "output"), "output_metadata.txt"},
	} {
		content, err := GenerateReport(pair.label, pair.dir)
		if err != nil {
			return fmt.Errorf("generating %s metadata: %w", strings.ToLower(pair.label), err)
		}
		if err := os.WriteFile(filepath.Join(metaDir, pair.file), []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", pair.file, err)
		}
	}
	return nil
}
