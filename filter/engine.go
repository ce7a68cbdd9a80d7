// Package filter implements the dashboard's column filters: each column gets
// one strategy (categorical, numeric, temporal or text) derived from its type
// and data, and the selections persist in a State across re-derivations.
package filter

import (
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

// Status describes the outcome of Apply.
type Status int

const (
	// StatusOK means at least one row passed.
	StatusOK Status = iota
	// StatusEmpty means the filters removed every row. This is a valid
	// result, not an error.
	StatusEmpty
	// StatusNoData means the input table itself was empty.
	StatusNoData
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusNoData:
		return "no_data"
	default:
		return "ok"
	}
}

// Choices lists what a column can be filtered on, for rendering controls.
type Choices struct {
	Column  string   `json:"column"`
	Kind    Kind     `json:"kind"`
	Options []string `json:"options,omitempty"`
	Bounds  Range    `json:"bounds"`
	Step    float64  `json:"step,omitempty"`
}

// Result is the output of Apply.
type Result struct {
	Reviews      []models.Review
	State        *State
	Status       Status
	Choices      []Choices
	ColumnErrors map[string]error
}

// Empty reports whether no rows remain.
func (r *Result) Empty() bool {
	return len(r.Reviews) == 0
}

// Err joins the per-column errors in column order.
func (r *Result) Err() error {
	if len(r.ColumnErrors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.ColumnErrors))
	for name := range r.ColumnErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, r.ColumnErrors[name])
	}
	return errors.Join(errs...)
}

type predicate func(models.Review) bool

// Apply filters reviews by every column (rows must pass all of them) and
// returns the updated state. state itself is not modified. Columns missing
// from state are classified and given defaults derived from reviews. A
// rejected selection is reported in Result.ColumnErrors and the column keeps
// its previous selection; other columns are unaffected.
func Apply(reviews []models.Review, columns []Column, state *State) (*Result, error) {
	if state == nil {
		return nil, ErrUnconfigured
	}

	next := state.Clone()
	res := &Result{
		State:        next,
		ColumnErrors: make(map[string]error),
	}
	if len(reviews) == 0 {
		res.Status = StatusNoData
		return res, nil
	}

	preds := make([]predicate, 0, len(columns))
	for _, col := range columns {
		f, ok := next.filters[col.Name]
		if !ok || f.Kind == KindUnset {
			f = configure(col, reviews)
			next.filters[col.Name] = f
		}
		if err := settle(col, f, reviews); err != nil {
			res.ColumnErrors[col.Name] = err
			slog.Debug("filter selection rejected", slog.String("column", col.Name), slog.Any("error", err))
		}
		res.Choices = append(res.Choices, choicesFor(col, f, reviews))
		preds = append(preds, predicateFor(col, f))
	}

	out := make([]models.Review, 0, len(reviews))
	for _, r := range reviews {
		keep := true
		for _, pass := range preds {
			if !pass(r) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}

	res.Reviews = out
	if len(out) == 0 {
		res.Status = StatusEmpty
	}
	return res, nil
}

// configure classifies col and fills the default selection.
func configure(col Column, reviews []models.Review) *ColumnFilter {
	f := &ColumnFilter{Kind: Classify(col, reviews)}
	switch f.Kind {
	case KindCategorical:
		f.Categories = distinct(col, reviews)
	case KindNumeric:
		bounds := numericBounds(col, reviews)
		f.Min, f.Max = bounds.Min, bounds.Max
		f.Step = numericStep(col, bounds)
	case KindTemporal:
		f.Start, f.End = monthBounds(col, reviews)
	}
	f.accept()
	return f
}

// settle validates a configured filter, filling empty selections and rolling
// back rejected ranges.
func settle(col Column, f *ColumnFilter, reviews []models.Review) error {
	switch f.Kind {
	case KindCategorical:
		if !f.Span {
			if len(f.Categories) == 0 {
				f.Categories = distinct(col, reviews)
			}
			return nil
		}
		var err error
		switch {
		case col.Declared != KindTemporal:
			err = &ShapeError{Column: col.Name, Have: col.Declared, Want: KindTemporal}
		case f.Start.After(f.End):
			err = &InvalidFilterRangeError{
				Column: col.Name,
				Start:  parser.MonthBucket(f.Start),
				End:    parser.MonthBucket(f.End),
			}
		}
		if err != nil {
			f.restore()
			if !f.Span && len(f.Categories) == 0 {
				f.Categories = distinct(col, reviews)
			}
			return err
		}
		f.Categories = monthsWithin(col, reviews, f.Start, f.End)
		f.accept()
	case KindNumeric:
		if f.Min > f.Max {
			err := &InvalidFilterRangeError{
				Column: col.Name,
				Start:  formatFloat(f.Min),
				End:    formatFloat(f.Max),
			}
			rollback(col, f, reviews)
			return err
		}
		f.accept()
	case KindTemporal:
		if f.Start.After(f.End) {
			err := &InvalidFilterRangeError{
				Column: col.Name,
				Start:  parser.MonthBucket(f.Start),
				End:    parser.MonthBucket(f.End),
			}
			rollback(col, f, reviews)
			return err
		}
		f.accept()
	}
	return nil
}

func rollback(col Column, f *ColumnFilter, reviews []models.Review) {
	if f.accepted {
		f.restore()
		return
	}
	d := configure(col, reviews)
	f.Min, f.Max, f.Step = d.Min, d.Max, d.Step
	f.Start, f.End = d.Start, d.End
	f.accept()
}

func predicateFor(col Column, f *ColumnFilter) predicate {
	switch f.Kind {
	case KindCategorical:
		allowed := make(map[string]struct{}, len(f.Categories))
		for _, c := range f.Categories {
			allowed[c] = struct{}{}
		}
		return func(r models.Review) bool {
			_, ok := allowed[col.Value(r).Text]
			return ok
		}
	case KindNumeric:
		lo, hi := f.Min, f.Max
		return func(r models.Review) bool {
			v := col.Value(r).Num
			return v >= lo && v <= hi
		}
	case KindTemporal:
		start, end := f.Start, f.End
		return func(r models.Review) bool {
			m := parser.MonthStart(col.Value(r).Time)
			return !m.Before(start) && !m.After(end)
		}
	case KindText:
		if f.Pattern == "" {
			return func(models.Review) bool { return true }
		}
		re := compilePattern(f.Pattern)
		return func(r models.Review) bool {
			return re.MatchString(col.Value(r).Text)
		}
	}
	return func(models.Review) bool { return true }
}

// compilePattern treats the pattern as a regular expression, falling back to
// a literal substring when it does not compile.
func compilePattern(pattern string) *regexp.Regexp {
	if re, err := regexp.Compile(pattern); err == nil {
		return re
	}
	return regexp.MustCompile(regexp.QuoteMeta(pattern))
}

func choicesFor(col Column, f *ColumnFilter, reviews []models.Review) Choices {
	c := Choices{Column: col.Name, Kind: f.Kind}
	switch f.Kind {
	case KindCategorical:
		c.Options = distinct(col, reviews)
	case KindNumeric:
		c.Bounds = numericBounds(col, reviews)
		c.Step = numericStep(col, c.Bounds)
	case KindTemporal:
		seen := make(map[time.Time]struct{})
		var months []time.Time
		for _, r := range reviews {
			m := parser.MonthStart(col.Value(r).Time)
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				months = append(months, m)
			}
		}
		sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
		for _, m := range months {
			c.Options = append(c.Options, parser.MonthBucket(m))
		}
	}
	return c
}

func numericBounds(col Column, reviews []models.Review) Range {
	if col.Domain != nil {
		return *col.Domain
	}
	bounds := Range{Min: col.Value(reviews[0]).Num, Max: col.Value(reviews[0]).Num}
	for _, r := range reviews[1:] {
		v := col.Value(r).Num
		if v < bounds.Min {
			bounds.Min = v
		}
		if v > bounds.Max {
			bounds.Max = v
		}
	}
	return bounds
}

func numericStep(col Column, bounds Range) float64 {
	if col.Step > 0 {
		return col.Step
	}
	if step := (bounds.Max - bounds.Min) / 100; step > 0 {
		return step
	}
	return 1
}

// monthsWithin returns the distinct values of col whose month lies in
// [start, end], in column order.
func monthsWithin(col Column, reviews []models.Review, start, end time.Time) []string {
	inside := make(map[string]struct{})
	for _, r := range reviews {
		c := col.Value(r)
		m := parser.MonthStart(c.Time)
		if !m.Before(start) && !m.After(end) {
			inside[c.Text] = struct{}{}
		}
	}
	out := make([]string, 0, len(inside))
	for _, v := range distinct(col, reviews) {
		if _, ok := inside[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func monthBounds(col Column, reviews []models.Review) (time.Time, time.Time) {
	first := parser.MonthStart(col.Value(reviews[0]).Time)
	start, end := first, first
	for _, r := range reviews[1:] {
		m := parser.MonthStart(col.Value(r).Time)
		if m.Before(start) {
			start = m
		}
		if m.After(end) {
			end = m
		}
	}
	return start, end
}
