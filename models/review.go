// Package models defines data structures shared by the dashboard packages.
package models

import (
	"encoding/json"
	"time"
)

// MonthLayout is the label format of a month bucket, e.g. "Mar-2024".
const MonthLayout = "Jan-2006"

// DateLayout is the format of DateOfReview in the source dataset.
const DateLayout = "2006-01-02"

// Review is one normalized customer review.
type Review struct {
	DateOfReview   time.Time `csv:"date_of_review" json:"date_of_review"`
	StarRating     int       `csv:"star_rating" json:"star_rating"`
	Description    string    `csv:"review_description" json:"review_description"`
	HasDescription bool      `csv:"has_description" json:"has_description"`
	Month          time.Time `csv:"-" json:"-"`
	MonthBucket    string    `csv:"month_bucket" json:"month_bucket"`
}

// RestaurantDataset holds the reviews of one restaurant, newest first.
type RestaurantDataset struct {
	Name    string
	Reviews []Review
}

// Len returns the number of reviews in the dataset.
func (d *RestaurantDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Reviews)
}

// Record is a review tagged with its restaurant, the unit of export.
type Record struct {
	Restaurant string
	Review
}

// Records tags every review of the dataset with its name.
func (d *RestaurantDataset) Records() []Record {
	if d == nil {
		return nil
	}
	out := make([]Record, len(d.Reviews))
	for i, r := range d.Reviews {
		out[i] = Record{Restaurant: d.Name, Review: r}
	}
	return out
}

// Snapshot is one decoded copy of the remote dataset.
type Snapshot struct {
	Names        []string
	Datasets     map[string]*RestaurantDataset
	LastModified time.Time
	LoadedAt     time.Time
}

// Dataset returns the dataset stored under name, matched exactly.
func (s *Snapshot) Dataset(name string) (*RestaurantDataset, bool) {
	if s == nil {
		return nil, false
	}
	ds, ok := s.Datasets[name]
	return ds, ok
}

// Analysis is the summarization returned by the backend for a set of reviews.
type Analysis struct {
	Summary string   `json:"summary"`
	Pros    TextList `json:"pros"`
	Cons    TextList `json:"cons"`
}

// TextList decodes either a JSON string or a JSON array of strings.
type TextList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *TextList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
			return nil
		}
		*l = TextList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}
