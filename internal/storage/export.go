package storage

import (
	"encoding/json"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/phedge/internal/engine"
)

type ExportData struct {
	Run     RunMetadata     `json:"run"`
	History []engine.Sample `json:"history"`

	// Iterate holds one slice per scenario.
	Iterate [][]float64 `json:"iterate"`
}

func NewExportData(meta RunMetadata, history []engine.Sample, x mat.Matrix) ExportData {
	data := ExportData{Run: meta, History: history}
	if history == nil {
		data.History = []engine.Sample{}
	}
	if x != nil {
		rows, cols := x.Dims()
		data.Iterate = make([][]float64, cols)
		for s := range data.Iterate {
			data.Iterate[s] = make([]float64, rows)
			for i := range data.Iterate[s] {
				data.Iterate[s][i] = x.At(i, s)
			}
		}
	}
	return data
}

func ExportJSON(w io.Writer, data ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Export writes a stored run as one JSON document.
func (s *Store) Export(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	history, err := s.LoadHistory(runID)
	if err != nil {
		return err
	}
	x, err := s.LoadIterate(runID)
	if err != nil {
		return err
	}
	return ExportJSON(w, NewExportData(*meta, history, x))
}
