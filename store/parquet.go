package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SchemaVersion is written into every file's key/value metadata.
const SchemaVersion = "trajectory_row_v1"

// TrajectoryRow is one (state, action, next state) transition of a recorded game.
//
// State and NextState are game.State binary encodings, canonical for the
// player to move in each. Reward is the immediate reward for the mover (the
// final outcome on the terminal transition, 0 otherwise) and Win is the final
// outcome from the mover's point of view. Pi is the search distribution the
// action was sampled from.
type TrajectoryRow struct {
	GameID    string    `parquet:"game_id,dict"`
	Step      int32     `parquet:"step"`
	BoardSize int32     `parquet:"board_size"`
	State     []byte    `parquet:"state"`
	Action    int32     `parquet:"action"`
	NextState []byte    `parquet:"next_state"`
	Reward    float32   `parquet:"reward"`
	Terminal  bool      `parquet:"terminal"`
	Win       float32   `parquet:"win"`
	Pi        []float32 `parquet:"pi"`
	Source    string    `parquet:"source,dict"`

	// ModelPath is the checkpoint used to generate this game.
	ModelPath string `parquet:"model_path,dict,optional"`

	// SearchJSON stores a summary of the search root children, when a tree search produced the move.
	SearchJSON []byte `parquet:"search_json,optional,zstd"`
}

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.SkipPageBounds("next_state"),
		parquet.KeyValueMetadata("schema", SchemaVersion),
	}
}

// WriteBatchParquetAtomic writes a batch file containing multiple games. The
// file is written under outDir/tmp and renamed into outDir once complete, so
// readers never observe partial files.
func WriteBatchParquetAtomic(outDir string, rows []TrajectoryRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writeOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadParquet loads every row of a trajectory file.
func ReadParquet(path string) ([]TrajectoryRow, error) {
	rows, err := parquet.ReadFile[TrajectoryRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// CountRows sums the row counts of up to maxFiles of the newest batch files
// in dir from their footers, without decoding any rows. maxFiles <= 0
// counts everything.
func CountRows(dir string, maxFiles int) (rows int64, files int, err error) {
	paths, err := ListBatches(dir)
	if err != nil {
		return 0, 0, err
	}
	if maxFiles > 0 && len(paths) > maxFiles {
		paths = paths[:maxFiles]
	}
	for _, p := range paths {
		n, err := fileRows(p)
		if err != nil {
			return 0, 0, err
		}
		rows += n
	}
	return rows, len(paths), nil
}

func fileRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return 0, fmt.Errorf("open parquet %s: %w", path, err)
	}
	return pf.NumRows(), nil
}
