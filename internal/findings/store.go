package findings

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Store holds one scan's violations per category, the id index, and the
// recorded token usages.
type Store struct {
	mu         sync.RWMutex
	violations []Violation

	// Indexes for fast lookups
	byCategory map[Category][]int // category -> indices into violations
	byID       map[string][]int   // id -> indices into violations
	locators   map[string]Locator // id -> element locator
	idOrder    []string

	usages []TokenUsage
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byCategory: make(map[Category][]int),
		byID:       make(map[string][]int),
		locators:   make(map[string]Locator),
	}
}

// Add appends violations in discovery order. A violation whose id is not yet
// indexed registers its locator.
func (s *Store) Add(vv ...Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vv {
		idx := len(s.violations)
		s.violations = append(s.violations, v)
		s.byCategory[v.Category] = append(s.byCategory[v.Category], idx)
		if v.ID == "" {
			continue
		}
		s.byID[v.ID] = append(s.byID[v.ID], idx)
		if _, ok := s.locators[v.ID]; !ok {
			s.locators[v.ID] = Locator{Selector: v.Selector, Path: v.Path}
			s.idOrder = append(s.idOrder, v.ID)
		}
	}
}

// RecordUsage records token usages.
func (s *Store) RecordUsage(uu ...TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages = append(s.usages, uu...)
}

// Count returns the number of violations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.violations)
}

// All returns all violations in discovery order.
func (s *Store) All() []Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Violation, len(s.violations))
	copy(result, s.violations)
	return result
}

// ByCategory returns the violations of one category in discovery order.
func (s *Store) ByCategory(c Category) []Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectByIndex(s.byCategory[c])
}

// ByID returns every violation recorded for the element with the given id.
func (s *Store) ByID(id string) []Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectByIndex(s.byID[id])
}

// Results returns the category map. Every category is present, possibly empty.
func (s *Store) Results() Results {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Results, len(Categories))
	for _, c := range Categories {
		out[c] = s.collectByIndex(s.byCategory[c])
	}
	return out
}

// Lookup returns the locator of a flagged element.
func (s *Store) Lookup(id string) (Locator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locators[id]
	return loc, ok
}

// Index returns a copy of the id index.
func (s *Store) Index() map[string]Locator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Locator, len(s.locators))
	for id, loc := range s.locators {
		out[id] = loc
	}
	return out
}

// IDs returns the indexed ids in assignment order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.idOrder))
	copy(out, s.idOrder)
	return out
}

// Usages returns the recorded token usages.
func (s *Store) Usages() []TokenUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TokenUsage, len(s.usages))
	copy(out, s.usages)
	return out
}

// QueryOpts holds the filters for Query. Empty values match everything;
// Selector and Value are substring matches.
type QueryOpts struct {
	Category Category
	Property string // canonical or authored property, exact
	Selector string // substring of the element selector or its path
	Value    string // substring of the value, case-insensitive
	Offset   int
	Limit    int // max results to return (0 = default 100, max 500)
}

// Query returns violations matching all filters along with the total number
// of matches before offset and limit are applied.
func (s *Store) Query(opts QueryOpts) ([]Violation, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	property := strings.ToLower(opts.Property)
	value := strings.ToLower(opts.Value)

	var matched []Violation
	for _, v := range s.violations {
		if opts.Category != "" && v.Category != opts.Category {
			continue
		}
		if property != "" && v.Property != property && v.SourceProperty != property {
			continue
		}
		if opts.Selector != "" && !strings.Contains(v.Selector, opts.Selector) && !strings.Contains(v.Path, opts.Selector) {
			continue
		}
		if value != "" && !strings.Contains(strings.ToLower(v.Value), value) {
			continue
		}
		matched = append(matched, v)
	}

	total := len(matched)

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, total
		}
		matched = matched[opts.Offset:]
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total
}

// Clear removes all violations, locators and usages.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = nil
	s.byCategory = make(map[Category][]int)
	s.byID = make(map[string][]int)
	s.locators = make(map[string]Locator)
	s.idOrder = nil
	s.usages = nil
}

// WriteJSONL writes all violations as JSONL to the given writer.
func (s *Store) WriteJSONL(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc := json.NewEncoder(w)
	for _, v := range s.violations {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding violation %q: %w", v.ID, err)
		}
	}
	return nil
}

// WriteJSONLFile writes all violations as JSONL to the given file path.
func (s *Store) WriteJSONLFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := s.WriteJSONL(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadJSONL reads violations from a JSONL reader and adds them to the store.
func (s *Store) ReadJSONL(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v Violation
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("decoding violation: %w", err)
		}
		c, ok := ParseCategory(string(v.Category))
		if !ok {
			return fmt.Errorf("decoding violation %q: unknown category %q", v.ID, v.Category)
		}
		v.Category = c
		s.Add(v)
	}
	return scanner.Err()
}

// ReadJSONLFile reads violations from a JSONL file and adds them to the store.
func (s *Store) ReadJSONLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return s.ReadJSONL(f)
}

func (s *Store) collectByIndex(indices []int) []Violation {
	result := make([]Violation, 0, len(indices))
	for _, idx := range indices {
		if idx < len(s.violations) {
			result = append(result, s.violations[idx])
		}
	}
	return result
}
