package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TempSuffix marks files that are still being written
const TempSuffix = ".tmp"

// CSVHandler provides utilities for CSV file operations
type CSVHandler struct {
	baseDir string
}

// NewCSVHandler creates a new CSV handler; relative paths are resolved against baseDir
func NewCSVHandler(baseDir string) *CSVHandler {
	return &CSVHandler{
		baseDir: baseDir,
	}
}

// Path resolves filePath against the handler's base directory
func (h *CSVHandler) Path(filePath string) string {
	if filepath.IsAbs(filePath) || h.baseDir == "" {
		return filePath
	}
	return filepath.Join(h.baseDir, filePath)
}

// ReadHeader returns the first row of a CSV file
func (h *CSVHandler) ReadHeader(filePath string) ([]string, error) {
	file, err := os.Open(h.Path(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err == io.EOF {
		return nil, fmt.Errorf("file %s is empty", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", filePath, err)
	}
	return trimHeader(header), nil
}

// ReadFileStreaming reads a CSV file row by row and calls processRow with the header and each data row.
// Errors from processRow are prefixed with the line the record starts on.
func (h *CSVHandler) ReadFileStreaming(filePath string, processRow func(header, row []string) error) error {
	file, err := os.Open(h.Path(filePath))
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err == io.EOF {
		return nil // Empty file
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	header = trimHeader(header)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}

		if err := processRow(header, row); err != nil {
			line, _ := reader.FieldPos(0)
			return fmt.Errorf("line %d: %w", line, err)
		}
	}

	return nil
}

// WriteFileAtomic writes header and rows to a temporary file next to filePath,
// syncs it and renames it into place
func (h *CSVHandler) WriteFileAtomic(filePath string, header []string, rows [][]string) error {
	target := h.Path(filePath)
	tmpPath := target + TempSuffix

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	if err := writeRows(file, header, rows); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if len(header) > 0 {
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush rows: %w", err)
	}
	return nil
}

// RemoveTempFiles deletes leftovers of interrupted atomic writes in dir
func (h *CSVHandler) RemoveTempFiles(dir string) (int, error) {
	dir = h.Path(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv"+TempSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			continue // Skip files that can't be removed
		}
		removed++
	}
	return removed, nil
}

func trimHeader(header []string) []string {
	out := make([]string, len(header))
	for i, column := range header {
		column = strings.TrimSpace(column)
		if i == 0 {
			column = strings.TrimPrefix(column, "\ufeff")
		}
		out[i] = column
	}
	return out
}
