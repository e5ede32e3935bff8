package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/game"
)

// ErrGameNotFound is returned when no rows exist for a game id.
var ErrGameNotFound = errors.New("game not found")

// DBCache maintains a cached DuckDB connection over the trajectory files
// that refreshes periodically.
type DBCache struct {
	roots       []string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time

	// Cached games index for fast pagination
	gamesIndex []GameSummary
}

func NewDBCache(roots []string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, refreshing if needed.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()
	newDB, err := openDuckDBWithGlobs(c.roots)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = newDB
	c.lastRefresh = time.Now()
	c.gamesIndex = nil

	log.Debug().Dur("took", time.Since(start)).Msg("duckdb view refreshed")
	return c.db, nil
}

// GetGamesIndex returns the cached games index. It is rebuilt after every
// refresh of the view.
func (c *DBCache) GetGamesIndex(ctx context.Context) ([]GameSummary, error) {
	if _, err := c.Get(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	if c.gamesIndex != nil {
		idx := c.gamesIndex
		c.mu.RUnlock()
		return idx, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gamesIndex != nil {
		return c.gamesIndex, nil
	}
	if c.db == nil {
		if _, err := c.refreshLocked(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	games, err := queryAllGames(ctx, c.db, c.roots)
	if err != nil {
		return nil, err
	}
	c.gamesIndex = games
	log.Debug().Int("games", len(games)).Dur("took", time.Since(start)).Msg("games index rebuilt")
	return c.gamesIndex, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

// openDuckDBWithGlobs creates an in-memory DuckDB with a trajectories view
// over the batch files directly under roots.
func openDuckDBWithGlobs(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		// Staging files live in root/tmp and are never matched.
		glob := filepath.Join(root, "*.parquet")
		if matches, _ := filepath.Glob(glob); len(matches) == 0 {
			continue
		}
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
	}

	if len(globs) == 0 {
		_, err := db.Exec(`CREATE OR REPLACE VIEW trajectories AS
			SELECT * FROM (
				SELECT
					NULL::VARCHAR AS game_id,
					NULL::INTEGER AS step,
					NULL::INTEGER AS board_size,
					NULL::BLOB AS state,
					NULL::INTEGER AS action,
					NULL::BLOB AS next_state,
					NULL::REAL AS reward,
					NULL::BOOLEAN AS terminal,
					NULL::REAL AS win,
					NULL::REAL[] AS pi,
					NULL::VARCHAR AS source,
					NULL::VARCHAR AS model_path,
					NULL::BLOB AS search_json,
					NULL::VARCHAR AS filename
			) WHERE 1=0`)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	sqlText := `CREATE OR REPLACE VIEW trajectories AS
		SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func makeRelativeToRoots(filename string, roots []string) string {
	best := strings.TrimSpace(filename)
	for _, r := range roots {
		root := strings.TrimSpace(r)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, best)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if cand := filepath.ToSlash(filepath.Join(root, rel)); len(cand) < len(best) {
			best = cand
		}
	}
	return best
}

// queryAllGames loads one summary per game, newest game id first.
func queryAllGames(ctx context.Context, db *sql.DB, roots []string) ([]GameSummary, error) {
	query := `SELECT
			game_id,
			COUNT(*)::INTEGER AS steps,
			MIN(board_size)::INTEGER AS board_size,
			MIN(source)::VARCHAR AS source,
			MIN(model_path)::VARCHAR AS model_path,
			arg_min(win, step)::REAL AS black_result,
			MIN(filename)::VARCHAR AS file
		FROM trajectories
		GROUP BY game_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GameSummary
	for rows.Next() {
		var g GameSummary
		var modelPath sql.NullString
		var file string
		if err := rows.Scan(&g.GameID, &g.Steps, &g.BoardSize, &g.Source, &modelPath, &g.BlackResult, &file); err != nil {
			return nil, err
		}
		g.ModelPath = modelPath.String
		g.File = makeRelativeToRoots(file, roots)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID > out[j].GameID })
	return out, nil
}

// paginateGames sorts and paginates a games index in memory.
func paginateGames(games []GameSummary, limit, offset int, sortKey string) []GameSummary {
	sorted := make([]GameSummary, len(games))
	copy(sorted, games)
	switch strings.ToLower(strings.TrimSpace(sortKey)) {
	case "steps":
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Steps > sorted[j].Steps })
	case "source":
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Source < sorted[j].Source })
	}

	if offset >= len(sorted) {
		return []GameSummary{}
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end]
}

// queryGameFrames decodes every recorded step of a game into frames: the
// initial position followed by one frame per move.
func queryGameFrames(ctx context.Context, db *sql.DB, gameID string) ([]Frame, error) {
	rows, err := db.QueryContext(ctx, `SELECT step, state, action, next_state, pi, search_json
		FROM trajectories WHERE game_id = ? ORDER BY step`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var (
			step       int32
			stateData  []byte
			action     int32
			nextData   []byte
			piAny      any
			searchData []byte
		)
		if err := rows.Scan(&step, &stateData, &action, &nextData, &piAny, &searchData); err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			var s game.State
			if err := s.UnmarshalBinary(stateData); err != nil {
				return nil, fmt.Errorf("step %d state: %w", step, err)
			}
			frames = append(frames, newFrame(gameID, int(step), -1, &s))
		}
		var next game.State
		if err := next.UnmarshalBinary(nextData); err != nil {
			return nil, fmt.Errorf("step %d next state: %w", step, err)
		}
		f := newFrame(gameID, int(step)+1, int(action), &next)
		f.Pi = asFloat32Slice(piAny)
		if len(searchData) > 0 {
			f.Search = searchData
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrGameNotFound
	}
	return frames, nil
}
