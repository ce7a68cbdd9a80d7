package filter

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

// Kind is the filter strategy of a column.
type Kind int

const (
	KindUnset Kind = iota
	KindCategorical
	KindNumeric
	KindTemporal
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindCategorical:
		return "categorical"
	case KindNumeric:
		return "numeric"
	case KindTemporal:
		return "temporal"
	case KindText:
		return "text"
	default:
		return "unset"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, kind := range []Kind{KindUnset, KindCategorical, KindNumeric, KindTemporal, KindText} {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown filter kind %q", text)
}

// CategoricalThreshold is the distinct-value count below which a column is
// treated as categorical.
const CategoricalThreshold = 10

// Column names of the review table.
const (
	ColumnStarRating  = "star_rating"
	ColumnMonth       = "month_bucket"
	ColumnDate        = "date_of_review"
	ColumnDescription = "review_description"
)

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RatingDomain is the star scale. It does not depend on the data.
var RatingDomain = Range{Min: parser.MinRating, Max: parser.MaxRating}

// Cell is one value of a column. Text always holds the stringified value;
// Num and Time are set for numeric and temporal columns.
type Cell struct {
	Num  float64
	Time time.Time
	Text string
}

// Column describes a filterable column of the review table.
type Column struct {
	Name     string
	Declared Kind
	// Pinned skips the distinct-count heuristic so Declared always wins.
	Pinned bool
	// Domain fixes the default numeric range. It implies Pinned.
	Domain *Range
	Step   float64
	Value  func(models.Review) Cell
}

// StarRatingColumn is the rating column with its fixed 1-5 domain.
func StarRatingColumn() Column {
	domain := RatingDomain
	return Column{
		Name:     ColumnStarRating,
		Declared: KindNumeric,
		Domain:   &domain,
		Step:     1,
		Value: func(r models.Review) Cell {
			return Cell{Num: float64(r.StarRating), Text: strconv.Itoa(r.StarRating)}
		},
	}
}

// MonthColumn is the month bucket column.
func MonthColumn() Column {
	return Column{
		Name:     ColumnMonth,
		Declared: KindTemporal,
		Value: func(r models.Review) Cell {
			return Cell{Time: r.Month, Text: r.MonthBucket}
		},
	}
}

// DateColumn is the review date column.
func DateColumn() Column {
	return Column{
		Name:     ColumnDate,
		Declared: KindTemporal,
		Value: func(r models.Review) Cell {
			return Cell{Time: r.DateOfReview, Text: r.DateOfReview.Format(models.DateLayout)}
		},
	}
}

// DescriptionColumn is the free-text review column.
func DescriptionColumn() Column {
	return Column{
		Name:     ColumnDescription,
		Declared: KindText,
		Pinned:   true,
		Value: func(r models.Review) Cell {
			return Cell{Text: r.Description}
		},
	}
}

// DefaultColumns are the columns the dashboard filters on.
func DefaultColumns() []Column {
	return []Column{StarRatingColumn(), MonthColumn(), DescriptionColumn()}
}

// Classify picks the filter strategy of col for reviews. First match wins:
// categorical, numeric, temporal, text.
func Classify(col Column, reviews []models.Review) Kind {
	pinned := col.Pinned || col.Domain != nil
	if col.Declared == KindCategorical {
		return KindCategorical
	}
	if !pinned && distinctCount(col, reviews) < CategoricalThreshold {
		return KindCategorical
	}
	switch col.Declared {
	case KindNumeric:
		return KindNumeric
	case KindTemporal:
		return KindTemporal
	default:
		return KindText
	}
}

func distinctCount(col Column, reviews []models.Review) int {
	seen := make(map[string]struct{})
	for _, r := range reviews {
		seen[col.Value(r).Text] = struct{}{}
		if len(seen) >= CategoricalThreshold {
			break
		}
	}
	return len(seen)
}

// distinct returns the distinct stringified values of col, ordered by the
// underlying value.
func distinct(col Column, reviews []models.Review) []string {
	cells := make(map[string]Cell)
	for _, r := range reviews {
		c := col.Value(r)
		cells[c.Text] = c
	}
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := cells[keys[i]], cells[keys[j]]
		switch col.Declared {
		case KindNumeric:
			if a.Num != b.Num {
				return a.Num < b.Num
			}
		case KindTemporal:
			if !a.Time.Equal(b.Time) {
				return a.Time.Before(b.Time)
			}
		}
		return keys[i] < keys[j]
	})
	return keys
}
