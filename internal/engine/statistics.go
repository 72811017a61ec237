package engine

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/flexsimproject/flexsim/internal/jobs"
)

// JobStatisticsHeader is the mandated per-job statistics CSV header.
var JobStatisticsHeader = []string{
	"ID", "Type", "Submit Time", "Start Time", "End Time", "Wait Time", "Makespan", "Turnaround Time", "Status",
}

// WriteJobStatistics writes the final per-job statistics. Every job must have
// reached a terminal state.
func WriteJobStatistics(path string, jobList []*jobs.Job) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating job statistics output %s", path)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err := writer.Write(JobStatisticsHeader); err != nil {
		return errors.Wrap(err, "writing job statistics header")
	}
	for _, job := range jobList {
		var status string
		switch job.State {
		case jobs.Completed:
			status = "completed"
		case jobs.Killed:
			status = "killed"
		default:
			return errors.Errorf("invalid final status %s of job %d", job.State, job.Id)
		}
		row := []string{
			fmt.Sprintf("%d", job.Id),
			job.Type.String(),
			formatSeconds(job.SubmitTime),
			formatSeconds(job.StartTime),
			formatSeconds(job.EndTime),
			formatSeconds(job.WaitTime),
			formatSeconds(job.Makespan),
			formatSeconds(job.TurnaroundTime),
			status,
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrap(err, "writing job statistics row")
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flushing job statistics")
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%g", v)
}
