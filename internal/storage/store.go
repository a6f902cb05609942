// Package storage persists solver runs on disk. Every run is a directory
// holding metadata.json, history.csv and iterate.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/engine"
)

const (
	metadataFile = "metadata.json"
	historyFile  = "history.csv"
	iterateFile  = "iterate.csv"
)

var historyHeader = []string{
	"iteration", "time", "objective", "primal_residual", "dual_residual",
	"dist_opt", "waiting_workers", "max_staleness",
}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID             string             `json:"id"`
	Problem        string             `json:"problem"`
	Algorithm      string             `json:"algorithm"`
	Timestamp      time.Time          `json:"timestamp"`
	Seed           *int64             `json:"seed,omitempty"`
	Status         string             `json:"status"`
	Iterations     int                `json:"iterations"`
	Elapsed        time.Duration      `json:"elapsed_ns"`
	Objective      float64            `json:"objective"`
	PrimalResidual float64            `json:"primal_residual"`
	DualResidual   float64            `json:"dual_residual"`
	Dim            int                `json:"dim"`
	Scenarios      int                `json:"scenarios"`
	Stats          engine.Stats       `json:"stats"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

// Save writes a finished solve and returns its run id.
func (s *Store) Save(problem string, seed *int64, result *engine.Result, metrics map[string]float64) (string, error) {
	if result == nil || result.X == nil {
		return "", errors.New("storage: nothing to save")
	}
	runID := fmt.Sprintf("%s_%s_%s", problem, result.Algorithm, uuid.New().String()[:8])
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	dim, scenarios := result.X.Dims()
	meta := RunMetadata{
		ID:             runID,
		Problem:        problem,
		Algorithm:      result.Algorithm,
		Timestamp:      time.Now(),
		Seed:           seed,
		Status:         result.Status.String(),
		Iterations:     result.Iterations,
		Elapsed:        result.Elapsed,
		Objective:      result.Objective,
		PrimalResidual: result.PrimalResidual,
		DualResidual:   result.DualResidual,
		Dim:            dim,
		Scenarios:      scenarios,
		Stats:          result.Stats,
		Metrics:        metrics,
	}

	if err := writeFile(filepath.Join(runDir, metadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, historyFile), func(w io.Writer) error {
		return WriteHistoryCSV(w, result.History)
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, iterateFile), func(w io.Writer) error {
		return WriteIterateCSV(w, result.X)
	}); err != nil {
		return "", err
	}
	return runID, nil
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns the stored runs, newest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	slices.SortFunc(runs, func(a, b RunMetadata) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadHistory(runID string) ([]engine.Sample, error) {
	records, err := readCSV(filepath.Join(s.baseDir, runID, historyFile))
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []engine.Sample{}, nil
	}

	history := make([]engine.Sample, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(historyHeader) {
			return nil, fmt.Errorf("run %s: history line %d has %d fields", runID, i+2, len(rec))
		}
		var (
			v    [8]float64
			perr error
		)
		for j := range v {
			if v[j], perr = strconv.ParseFloat(rec[j], 64); perr != nil {
				return nil, fmt.Errorf("run %s: history line %d: %w", runID, i+2, perr)
			}
		}
		history = append(history, engine.Sample{
			Iteration:      int(v[0]),
			Time:           time.Duration(v[1] * float64(time.Second)),
			Objective:      v[2],
			PrimalResidual: v[3],
			DualResidual:   v[4],
			DistOpt:        v[5],
			WaitingWorkers: int(v[6]),
			MaxStaleness:   int(v[7]),
		})
	}
	return history, nil
}

// LoadIterate reads the final iterate as a (dim × scenarios) matrix.
func (s *Store) LoadIterate(runID string) (*mat.Dense, error) {
	records, err := readCSV(filepath.Join(s.baseDir, runID, iterateFile))
	if err != nil {
		return nil, err
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("run %s: empty iterate", runID)
	}
	rows, cols := len(records)-1, len(records[0])-1
	x := mat.NewDense(rows, cols, nil)
	for i, rec := range records[1:] {
		if len(rec) != cols+1 {
			return nil, fmt.Errorf("run %s: iterate line %d has %d fields", runID, i+2, len(rec))
		}
		for j := 0; j < cols; j++ {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("run %s: iterate line %d: %w", runID, i+2, err)
			}
			x.Set(i, j, v)
		}
	}
	return x, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteHistoryCSV writes samples with the time in seconds.
func WriteHistoryCSV(w io.Writer, history []engine.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}
	for _, s := range history {
		row := []string{
			strconv.Itoa(s.Iteration),
			formatFloat(s.Time.Seconds()),
			formatFloat(s.Objective),
			formatFloat(s.PrimalResidual),
			formatFloat(s.DualResidual),
			formatFloat(s.DistOpt),
			strconv.Itoa(s.WaitingWorkers),
			strconv.Itoa(s.MaxStaleness),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteIterateCSV writes one line per coordinate and one column per
// scenario.
func WriteIterateCSV(w io.Writer, x mat.Matrix) error {
	rows, cols := x.Dims()
	cw := csv.NewWriter(w)
	header := []string{"coord"}
	for s := 0; s < cols; s++ {
		header = append(header, fmt.Sprintf("s%d", s))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		row := []string{strconv.Itoa(i)}
		for s := 0; s < cols; s++ {
			row = append(row, formatFloat(x.At(i, s)))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
