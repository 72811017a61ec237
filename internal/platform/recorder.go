package platform

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Recorder appends one timestamped row to a statistics sink.
type Recorder interface {
	Record(time float64, fields ...string)
}

// UtilizationRecorder receives (node, state, running jobs, expected jobs) rows on
// every node state change.
type UtilizationRecorder = Recorder

// TaskTimeRecorder receives (job, node, task, duration) rows on every
// completed task.
type TaskTimeRecorder = Recorder

// NopRecorder discards all rows.
type NopRecorder struct{}

func (NopRecorder) Record(float64, ...string) {}

// CsvRecorder writes rows to a CSV file with a fixed header.
type CsvRecorder struct {
	writer *csv.Writer
	closer io.Closer
}

// NewCsvRecorder opens path and writes the header row.
func NewCsvRecorder(path string, header []string) (*CsvRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating statistics output %s", path)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "writing header to %s", path)
	}
	return &CsvRecorder{writer: writer, closer: file}, nil
}

func (r *CsvRecorder) Record(time float64, fields ...string) {
	row := append([]string{fmt.Sprintf("%g", time)}, fields...)
	_ = r.writer.Write(row)
}

func (r *CsvRecorder) Close() error {
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		_ = r.closer.Close()
		return err
	}
	return r.closer.Close()
}

// NodeUtilizationHeader is the mandated node utilisation CSV header.
var NodeUtilizationHeader = []string{"Time", "Node", "State", "Running jobs", "Expected jobs"}

// TaskTimesHeader is the per-task duration CSV header.
var TaskTimesHeader = []string{"Time", "Job", "Node", "Task", "Duration"}
