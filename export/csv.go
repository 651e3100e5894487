// Package export writes verdict CSV files in the fixed report layout.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/types"
)

// header is the fixed column layout consumed by downstream reporting
var header = []string{
	"Report Date",
	"Online Store",
	"RPC",
	"Customer ID",
	"Rule Name",
	"Rule Pass",
	"Rule Score",
	"Error Message",
}

// Row renders one verdict as a CSV row in header order
func Row(v types.Verdict) []string {
	return []string{
		v.ReportDate,
		v.OnlineStore,
		v.RPC,
		v.CustomerID,
		v.RuleName,
		strconv.FormatBool(v.Passed),
		strconv.FormatFloat(v.Score, 'f', 1, 64),
		v.ErrorMessage,
	}
}

// FileWriter writes verdicts to a CSV file. Write is safe for concurrent
// callers; rows from concurrent writers interleave whole, never torn.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewFileWriter creates the file at path and writes the header row
func NewFileWriter(path string) (*FileWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "FileWriter", "NewFileWriter", fmt.Sprintf("create %s", path))
	}

	w := &FileWriter{file: file, csv: csv.NewWriter(file)}
	if err := w.csv.Write(header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "FileWriter", "NewFileWriter", "write header")
	}
	return w, nil
}

// Write appends one verdict row
func (w *FileWriter) Write(v types.Verdict) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(Row(v)); err != nil {
		return errors.Wrap(err, "FileWriter", "Write", "write row")
	}
	return nil
}

// Close flushes buffered rows and closes the file
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return errors.Wrap(flushErr, "FileWriter", "Close", "flush rows")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "FileWriter", "Close", "close file")
	}
	return nil
}
