package bench

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/rotor/pkg/device"
)

// Report is the JSON document `rotor bench --report` emits.
type Report struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Device    string    `json:"device"`
	Cores     int       `json:"cores"`
	Features  []string  `json:"features,omitempty"`
	Results   []Result  `json:"results"`
}

// NewReport stamps the results with a run ID and the device descriptor.
func NewReport(dev *device.Device, results []Result) Report {
	return Report{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Device:    dev.Name(),
		Cores:     dev.Cores(),
		Features:  dev.Features(),
		Results:   results,
	}
}

// WriteJSON writes the report to path.
func (r Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("bench: encode report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bench: write report: %w", err)
	}
	return nil
}
