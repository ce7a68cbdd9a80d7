package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/reviewdash/models"
)

// Rating bounds of the star scale.
const (
	MinRating = 1
	MaxRating = 5
)

// Sentinels the scraper writes when a review carries no text.
var emptyDescriptions = []string{"nil", "No description provided"}

// ParseDate parses a DateOfReview value (YYYY-MM-DD) as a UTC calendar date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}

// ParseRating converts a textual or numeric star rating to an integer on the 1-5 scale.
func ParseRating(raw string) (int, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, fmt.Errorf("rating is empty")
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rating %q: %w", raw, err)
	}
	if value != math.Trunc(value) {
		return 0, fmt.Errorf("rating %q is not a whole star", raw)
	}
	rating := int(value)
	if rating < MinRating || rating > MaxRating {
		return 0, fmt.Errorf("rating %d outside %d-%d", rating, MinRating, MaxRating)
	}
	return rating, nil
}

// NormalizeDescription trims the description and maps the sentinels to empty.
func NormalizeDescription(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, sentinel := range emptyDescriptions {
		if text == sentinel {
			return "", false
		}
	}
	return text, true
}

// MonthStart truncates t to the first day of its month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthBucket returns the month label of t, e.g. "Mar-2024".
func MonthBucket(t time.Time) string {
	return t.Format(models.MonthLayout)
}

// ParseMonthBucket accepts "Mar-2024" or "2024-03" and returns the first day of that month.
func ParseMonthBucket(label string) (time.Time, error) {
	label = strings.TrimSpace(label)
	for _, layout := range []string{models.MonthLayout, "2006-01"} {
		if t, err := time.Parse(layout, label); err == nil {
			return MonthStart(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse month %q: want Jan-2006 or 2006-01", label)
}

// NewReview builds a normalized review from raw record fields.
func NewReview(date, rating, description string) (models.Review, error) {
	day, err := ParseDate(date)
	if err != nil {
		return models.Review{}, err
	}
	stars, err := ParseRating(rating)
	if err != nil {
		return models.Review{}, err
	}
	text, ok := NormalizeDescription(description)
	month := MonthStart(day)
	return models.Review{
		DateOfReview:   day,
		StarRating:     stars,
		Description:    text,
		HasDescription: ok,
		Month:          month,
		MonthBucket:    MonthBucket(month),
	}, nil
}

// ValidateReview ensures a review was normalized.
func ValidateReview(r *models.Review) error {
	if r == nil {
		return fmt.Errorf("review is nil")
	}
	if r.DateOfReview.IsZero() {
		return fmt.Errorf("review missing date")
	}
	if r.StarRating < MinRating || r.StarRating > MaxRating {
		return fmt.Errorf("review rating %d outside %d-%d", r.StarRating, MinRating, MaxRating)
	}
	if r.MonthBucket == "" {
		return fmt.Errorf("review missing month bucket")
	}
	return nil
}
