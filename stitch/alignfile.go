package stitch

import (
	"encoding/json"
	"fmt"
	"os"
)

// alignFilePair is one PairObservation as persisted in align_values.json.
type alignFilePair struct {
	I      int     `json:"i"`
	J      int     `json:"j"`
	Shift  [3]float64 `json:"shift"`
	Weight float64 `json:"weight"`
	Valid  bool    `json:"valid"`
	Prior  bool    `json:"prior"`
}

// alignFileOffset is one tile's absolute offset within its component.
type alignFileOffset struct {
	Tile   int        `json:"tile"`
	Offset [3]float64 `json:"offset"`
}

// AlignFile is the on-disk schema of align_values.json: when present in
// the output directory, the Solver is bypassed and its contents are
// deserialised directly, allowing the Fuser to run independently of
// re-registration.
type AlignFile struct {
	Pairs     []alignFilePair     `json:"pairs"`
	Subgraphs []Component         `json:"subgraphs"`
	Offsets   [][]alignFileOffset `json:"offsets"`
}

// SaveAlignFile writes pairs, components, and per-component offset
// tables to path as align_values.json.
func SaveAlignFile(path string, observations []PairObservation, components []Component, offsets []OffsetTable) error {
	af := AlignFile{
		Subgraphs: components,
	}
	for _, o := range observations {
		af.Pairs = append(af.Pairs, alignFilePair{
			I: o.I, J: o.J, Shift: [3]float64(o.Shift), Weight: o.Weight, Valid: o.Valid, Prior: o.Prior,
		})
	}
	for ci, comp := range components {
		var row []alignFileOffset
		table := offsets[ci]
		for _, id := range comp {
			row = append(row, alignFileOffset{Tile: id, Offset: [3]float64(table[id])})
		}
		af.Offsets = append(af.Offsets, row)
	}

	data, err := json.MarshalIndent(af, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling align file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing align file: %v", ErrWriteFailure, err)
	}
	return nil
}

// LoadAlignFile reads align_values.json back into observations,
// components, and offset tables. Round-tripping through SaveAlignFile
// must yield identical Offsets arrays.
func LoadAlignFile(path string) ([]PairObservation, []Component, []OffsetTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: reading align file: %v", ErrTileNotFound, err)
	}
	var af AlignFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: parsing align file: %v", ErrDecodeFailure, err)
	}

	observations := make([]PairObservation, len(af.Pairs))
	for i, p := range af.Pairs {
		observations[i] = PairObservation{I: p.I, J: p.J, Shift: Vec(p.Shift), Weight: p.Weight, Valid: p.Valid, Prior: p.Prior}
	}

	offsets := make([]OffsetTable, len(af.Offsets))
	for ci, row := range af.Offsets {
		table := make(OffsetTable, len(row))
		for _, o := range row {
			table[o.Tile] = Vec(o.Offset)
		}
		offsets[ci] = table
	}

	return observations, af.Subgraphs, offsets, nil
}

// AlignFileExists reports whether an alignment file is present at path, the
// trigger condition for bypassing the Solver per §6.
func AlignFileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
