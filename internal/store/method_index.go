package store

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/alextreichler/threadViewer/internal/ingest"
	"github.com/alextreichler/threadViewer/internal/models"
)

// DefaultSearchLimit is the number of hits returned when the caller passes 0.
const DefaultSearchLimit = 10

type methodRow struct {
	workspace string
	name      string
}

var methodNamesTable = ingest.Table[methodRow]{
	Name:      "method_names",
	InsertSQL: "INSERT OR IGNORE INTO method_names (workspace, name) VALUES (?, ?)",
	Args:      func(r methodRow) []any { return []any{r.workspace, r.name} },
}

// IndexMethods adds names to the workspace's search index. Already indexed
// names are ignored.
func (s *SQLiteStore) IndexMethods(workspace string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	rows := make([]methodRow, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		rows = append(rows, methodRow{workspace: workspace, name: n})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.BatchAdd(s.db, methodNamesTable, rows, s.batchOpts...)
}

// SearchMethods ranks indexed method names against query. A query containing
// '*' or '?' is an anchored wildcard pattern. Otherwise maxEdits > 0 selects
// edit-distance matching on the whole name or any of its segments, and
// maxEdits == 0 a substring full-text match ranked by bm25.
func (s *SQLiteStore) SearchMethods(workspace, query string, maxEdits, limit int) ([]models.MethodMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case containsWildcard(query):
		return s.searchGlob(workspace, query, limit)
	case maxEdits > 0:
		return s.searchFuzzy(workspace, query, maxEdits, limit)
	case len([]rune(query)) < 3:
		// trigram tokens need at least three characters
		return s.searchLike(workspace, query, limit)
	default:
		return s.searchFTS(workspace, query, limit)
	}
}

func containsWildcard(q string) bool {
	return strings.ContainsAny(q, "*?")
}

// globPattern turns a user wildcard into a GLOB pattern. A trailing '*' must
// match at least one character.
func globPattern(q string) string {
	var b strings.Builder
	for _, r := range q {
		if r == '[' {
			b.WriteString("[[]")
			continue
		}
		b.WriteRune(r)
	}
	p := b.String()
	if strings.HasSuffix(p, "*") {
		p = strings.TrimRight(p, "*") + "?*"
	}
	return p
}

func (s *SQLiteStore) searchGlob(workspace, query string, limit int) ([]models.MethodMatch, error) {
	rows, err := s.db.Query(`SELECT name FROM method_names WHERE workspace = ? AND name GLOB ?
		ORDER BY length(name), name LIMIT ?`, workspace, globPattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search methods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MethodMatch
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		out = append(out, models.MethodMatch{Name: name, Score: 1})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) searchLike(workspace, query string, limit int) ([]models.MethodMatch, error) {
	rows, err := s.db.Query(`SELECT name FROM method_names WHERE workspace = ? AND name LIKE ? ESCAPE '\'
		ORDER BY length(name), name LIMIT ?`, workspace, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search methods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MethodMatch
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		out = append(out, models.MethodMatch{Name: name, Score: 1})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) searchFTS(workspace, query string, limit int) ([]models.MethodMatch, error) {
	fts := buildFTSQuery(query)
	if fts == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT m.name, bm25(method_names_fts)
		FROM method_names_fts JOIN method_names AS m ON m.id = method_names_fts.rowid
		WHERE method_names_fts MATCH ? AND m.workspace = ?
		ORDER BY bm25(method_names_fts), m.name LIMIT ?`, fts, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search methods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MethodMatch
	for rows.Next() {
		var (
			name string
			rank float64
		)
		if err := rows.Scan(&name, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		out = append(out, models.MethodMatch{Name: name, Score: -rank})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) searchFuzzy(workspace, query string, maxEdits, limit int) ([]models.MethodMatch, error) {
	rows, err := s.db.Query("SELECT name FROM method_names WHERE workspace = ?", workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to load method vocabulary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	q := strings.ToLower(query)
	var out []models.MethodMatch
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		d := nameDistance(q, name)
		if d > maxEdits {
			continue
		}
		out = append(out, models.MethodMatch{Name: name, Score: 1 / float64(1+d), Distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if len(out[i].Name) != len(out[j].Name) {
			return len(out[i].Name) < len(out[j].Name)
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// nameDistance is the smallest edit distance between q and the full name or
// any of its segments.
func nameDistance(q, name string) int {
	lower := strings.ToLower(name)
	best := levenshtein.ComputeDistance(q, lower)
	for _, seg := range nameSegments(lower) {
		if d := levenshtein.ComputeDistance(q, seg); d < best {
			best = d
		}
	}
	return best
}

func nameSegments(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildFTSQuery parses a user query string and converts it into a safe FTS5 syntax,
// preserving operators (AND, OR, NOT, (, )) and quoting other terms.
// It also supports name:value syntax.
func buildFTSQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	operators := map[string]bool{
		"AND": true, "OR": true, "NOT": true, "(": true, ")": true,
	}

	var tokens []string
	var currentToken strings.Builder
	inQuote := false

	for _, r := range input {
		if r == '"' {
			inQuote = !inQuote
			currentToken.WriteRune(r)
			continue
		}

		if inQuote {
			currentToken.WriteRune(r)
			continue
		}

		if r == '(' || r == ')' {
			if currentToken.Len() > 0 {
				tokens = append(tokens, currentToken.String())
				currentToken.Reset()
			}
			tokens = append(tokens, string(r))
			continue
		}

		if r == ' ' || r == '\t' {
			if currentToken.Len() > 0 {
				tokens = append(tokens, currentToken.String())
				currentToken.Reset()
			}
		} else {
			currentToken.WriteRune(r)
		}
	}

	if currentToken.Len() > 0 {
		tokens = append(tokens, currentToken.String())
	}

	var processed []string
	parenCount := 0
	for _, token := range tokens {
		upper := strings.ToUpper(token)
		if operators[upper] {
			switch upper {
			case "(":
				parenCount++
				processed = append(processed, upper)
			case ")":
				if parenCount <= 0 {
					continue
				}
				// Avoid empty parentheses ()
				if len(processed) > 0 && processed[len(processed)-1] == "(" {
					processed = processed[:len(processed)-1]
					parenCount--
					continue
				}
				parenCount--
				processed = append(processed, upper)
			default:
				// FTS5 rejects a leading or doubled binary operator
				if len(processed) == 0 {
					continue
				}
				last := processed[len(processed)-1]
				if last == "(" || operators[last] {
					continue
				}
				processed = append(processed, upper)
			}
			continue
		}

		if value, ok := strings.CutPrefix(token, "name:"); ok && value != "" {
			token = value
		}

		if strings.HasPrefix(token, "\"") && strings.HasSuffix(token, "\"") && len(token) >= 2 {
			inner := token[1 : len(token)-1]
			processed = append(processed, fmt.Sprintf("\"%s\"", strings.ReplaceAll(inner, "\"", "\"\"")))
		} else {
			processed = append(processed, fmt.Sprintf("\"%s\"", strings.ReplaceAll(token, "\"", "\"\"")))
		}
	}

	for len(processed) > 0 {
		last := processed[len(processed)-1]
		if last == "AND" || last == "OR" || last == "NOT" || last == "(" {
			if last == "(" {
				parenCount--
			}
			processed = processed[:len(processed)-1]
		} else {
			break
		}
	}

	for parenCount > 0 {
		processed = append(processed, ")")
		parenCount--
	}

	return strings.Join(processed, " ")
}
