// Package aggregate builds the chart series shown for a filtered review table.
package aggregate

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

// ErrNoData is returned when an average is requested over no reviews.
var ErrNoData = errors.New("aggregate: no data")

// meanPlaces is the number of decimals averages are rounded to.
const meanPlaces = 2

// RatingCount is one bar of the rating histogram.
type RatingCount struct {
	Rating int `json:"rating"`
	Count  int `json:"count"`
}

// MonthlyPoint is the mean rating and review count of one month.
type MonthlyPoint struct {
	Month      time.Time `json:"month"`
	Label      string    `json:"label"`
	MeanRating float64   `json:"mean_rating"`
	Count      int       `json:"count"`
}

// Summary holds the headline counts of a table.
type Summary struct {
	Total              int     `json:"total"`
	WithDescription    int     `json:"with_description"`
	WithoutDescription int     `json:"without_description"`
	Mean               float64 `json:"mean_rating"`
	HasMean            bool    `json:"has_mean"`
}

// RatingHistogram counts reviews per star rating. Only ratings that occur
// are listed, ascending.
func RatingHistogram(reviews []models.Review) []RatingCount {
	counts := make(map[int]int)
	for _, r := range reviews {
		counts[r.StarRating]++
	}
	out := make([]RatingCount, 0, len(counts))
	for rating, n := range counts {
		out = append(out, RatingCount{Rating: rating, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rating < out[j].Rating })
	return out
}

// MonthlySeries groups reviews by month bucket, oldest month first.
func MonthlySeries(reviews []models.Review) []MonthlyPoint {
	type bucket struct {
		sum   int64
		count int
	}
	buckets := make(map[time.Time]*bucket)
	for _, r := range reviews {
		m := r.Month
		if m.IsZero() {
			m = parser.MonthStart(r.DateOfReview)
		}
		b, ok := buckets[m]
		if !ok {
			b = &bucket{}
			buckets[m] = b
		}
		b.sum += int64(r.StarRating)
		b.count++
	}

	out := make([]MonthlyPoint, 0, len(buckets))
	for m, b := range buckets {
		out = append(out, MonthlyPoint{
			Month:      m,
			Label:      parser.MonthBucket(m),
			MeanRating: mean(b.sum, b.count),
			Count:      b.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

// MeanRating averages the star ratings, rounded to two decimals.
func MeanRating(reviews []models.Review) (float64, error) {
	if len(reviews) == 0 {
		return 0, ErrNoData
	}
	var sum int64
	for _, r := range reviews {
		sum += int64(r.StarRating)
	}
	return mean(sum, len(reviews)), nil
}

// Summarize counts reviews with and without a description and, when there
// is data, their mean rating.
func Summarize(reviews []models.Review) Summary {
	s := Summary{Total: len(reviews)}
	for _, r := range reviews {
		if r.HasDescription {
			s.WithDescription++
		} else {
			s.WithoutDescription++
		}
	}
	if m, err := MeanRating(reviews); err == nil {
		s.Mean, s.HasMean = m, true
	}
	return s
}

func mean(sum int64, count int) float64 {
	avg := decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(int64(count)), meanPlaces)
	f, _ := avg.Float64()
	return f
}
