package filter

import (
	"fmt"
	"sort"
	"time"

	"github.com/aluiziolira/reviewdash/parser"
)

// ColumnFilter is the active selection for one column. Only the fields of
// its Kind are meaningful.
type ColumnFilter struct {
	Kind Kind

	Categories []string

	Min  float64
	Max  float64
	Step float64

	// Start and End are first-of-month dates; End is inclusive through the
	// last day of its month.
	Start time.Time
	End   time.Time

	Pattern string

	// Span narrows a categorical month column to the months in [Start, End].
	// Categories is recomputed from the data on every Apply while it is set.
	Span bool

	// last accepted bounds, restored when a requested range is rejected
	accepted     bool
	okMin        float64
	okMax        float64
	okStart      time.Time
	okEnd        time.Time
	okSpan       bool
	okCategories []string
}

func (f *ColumnFilter) clone() *ColumnFilter {
	c := *f
	if f.Categories != nil {
		c.Categories = append([]string(nil), f.Categories...)
	}
	if f.okCategories != nil {
		c.okCategories = append([]string(nil), f.okCategories...)
	}
	return &c
}

func (f *ColumnFilter) accept() {
	f.accepted = true
	f.okMin, f.okMax = f.Min, f.Max
	f.okStart, f.okEnd = f.Start, f.End
}

func (f *ColumnFilter) restore() {
	f.Min, f.Max = f.okMin, f.okMax
	f.Start, f.End = f.okStart, f.okEnd
	if f.Kind == KindCategorical {
		f.Span = f.okSpan
		f.Categories = append([]string(nil), f.okCategories...)
	}
}

// State maps column names to their active filters. The zero value is not
// usable; call NewState.
type State struct {
	filters map[string]*ColumnFilter
}

// NewState returns an empty state; every column is re-derived from data on
// the next Apply.
func NewState() *State {
	return &State{filters: make(map[string]*ColumnFilter)}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := NewState()
	for name, f := range s.filters {
		out.filters[name] = f.clone()
	}
	return out
}

// Reset clears every column back to unset.
func (s *State) Reset() {
	s.filters = make(map[string]*ColumnFilter)
}

// Len returns the number of configured columns.
func (s *State) Len() int {
	return len(s.filters)
}

// Columns returns the configured column names, sorted.
func (s *State) Columns() []string {
	names := make([]string, 0, len(s.filters))
	for name := range s.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the filter for column.
func (s *State) Get(column string) (ColumnFilter, bool) {
	f, ok := s.filters[column]
	if !ok {
		return ColumnFilter{}, false
	}
	return *f.clone(), true
}

func (s *State) entry(column string, kind Kind) (*ColumnFilter, error) {
	f, ok := s.filters[column]
	if !ok || f.Kind == KindUnset {
		return nil, fmt.Errorf("column %s: %w", column, ErrUnconfigured)
	}
	if f.Kind != kind {
		return nil, &ShapeError{Column: column, Have: f.Kind, Want: kind}
	}
	return f, nil
}

// SetCategories selects the allowed values of a categorical column. An empty
// selection falls back to every value present on the next Apply.
func (s *State) SetCategories(column string, values ...string) error {
	f, err := s.entry(column, KindCategorical)
	if err != nil {
		return err
	}
	f.Categories = append([]string(nil), values...)
	f.Span = false
	return nil
}

// SetRange requests an inclusive numeric range. Ordering is checked by Apply.
func (s *State) SetRange(column string, lo, hi float64) error {
	f, err := s.entry(column, KindNumeric)
	if err != nil {
		return err
	}
	f.Min, f.Max = lo, hi
	return nil
}

// SetMonthRange requests a month range. Ordering is checked by Apply. On a
// month column that fell under the categorical threshold the range selects
// the categories whose month lies inside it.
func (s *State) SetMonthRange(column string, start, end time.Time) error {
	if f, ok := s.filters[column]; ok && f.Kind == KindCategorical {
		f.okSpan = f.Span
		f.okCategories = append([]string(nil), f.Categories...)
		f.Span = true
		f.Start, f.End = parser.MonthStart(start), parser.MonthStart(end)
		return nil
	}
	f, err := s.entry(column, KindTemporal)
	if err != nil {
		return err
	}
	f.Start, f.End = parser.MonthStart(start), parser.MonthStart(end)
	return nil
}

// SetMonthLabels is SetMonthRange for labels such as "Jan-2024".
func (s *State) SetMonthLabels(column, start, end string) error {
	from, err := parser.ParseMonthBucket(start)
	if err != nil {
		return err
	}
	to, err := parser.ParseMonthBucket(end)
	if err != nil {
		return err
	}
	return s.SetMonthRange(column, from, to)
}

// SetPattern sets the text pattern of a text column.
func (s *State) SetPattern(column, pattern string) error {
	f, err := s.entry(column, KindText)
	if err != nil {
		return err
	}
	f.Pattern = pattern
	return nil
}
