package coords

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Point is a normalized LED position, each component in [0,1].
type Point struct{ X, Y, Z float64 }

// Store maps LED ids to normalized positions. Ids without a position are
// valid and render black. Immutable after Load.
type Store struct {
	points map[int]Point
	maxID  int
}

// Coord returns the position for id, or ok=false when the id has none.
func (s *Store) Coord(id int) (Point, bool) {
	p, ok := s.points[id]
	return p, ok
}

// Len is the number of ids with a position.
func (s *Store) Len() int { return len(s.points) }

// MaxID is the highest id seen in the input file.
func (s *Store) MaxID() int { return s.maxID }

type rawRecord struct {
	id      int
	x, y, z float64
}

// Load parses a coordinate file and min-max normalizes each axis into
// [0,1]. Lines are "LED_<anything>_<id> <x> <y> <z>"; only the integer
// after the last underscore is the id. Blank lines, comments and non-LED
// lines are skipped; malformed LED lines are skipped with a warning.
// An unreadable file or zero valid records is an error.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("coords: %w", err)
	}
	defer f.Close()

	var raw []rawRecord
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "LED_") {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			log.Warn().Int("line", lineNo).Err(err).Msg("skipping malformed coordinate line")
			continue
		}
		raw = append(raw, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("coords: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, errors.New("coords: no valid LED records")
	}

	st := normalize(raw)
	log.Info().Int("leds", st.Len()).Int("max_id", st.maxID).Str("path", path).Msg("coordinates loaded")
	return st, nil
}

func parseLine(line string) (rawRecord, error) {
	parts := strings.Fields(line)
	if len(parts) < 4 {
		return rawRecord{}, fmt.Errorf("want 4 fields, got %d", len(parts))
	}
	// Only the integer after the last underscore is the id; the rest of
	// the prefix encodes channel info for external tools.
	tag := parts[0]
	idStr := tag[strings.LastIndex(tag, "_")+1:]
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return rawRecord{}, fmt.Errorf("bad led id %q", idStr)
	}
	var xyz [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return rawRecord{}, fmt.Errorf("bad coordinate %q", parts[i+1])
		}
		xyz[i] = v
	}
	return rawRecord{id: id, x: xyz[0], y: xyz[1], z: xyz[2]}, nil
}

func normalize(raw []rawRecord) *Store {
	minX, maxX := raw[0].x, raw[0].x
	minY, maxY := raw[0].y, raw[0].y
	minZ, maxZ := raw[0].z, raw[0].z
	maxID := 0
	for _, r := range raw {
		minX, maxX = min(minX, r.x), max(maxX, r.x)
		minY, maxY = min(minY, r.y), max(maxY, r.y)
		minZ, maxZ = min(minZ, r.z), max(maxZ, r.z)
		if r.id > maxID {
			maxID = r.id
		}
	}
	log.Debug().
		Floats64("x", []float64{minX, maxX}).
		Floats64("y", []float64{minY, maxY}).
		Floats64("z", []float64{minZ, maxZ}).
		Msg("coordinate bounding box")

	norm := func(v, lo, hi float64) float64 {
		if hi-lo == 0 {
			return 0.5
		}
		return (v - lo) / (hi - lo)
	}
	points := make(map[int]Point, len(raw))
	for _, r := range raw {
		points[r.id] = Point{
			X: norm(r.x, minX, maxX),
			Y: norm(r.y, minY, maxY),
			Z: norm(r.z, minZ, maxZ),
		}
	}
	return &Store{points: points, maxID: maxID}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
