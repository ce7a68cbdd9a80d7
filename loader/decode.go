package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

// Format is the encoding of a dataset blob.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FormatFromName infers the format from a key, path or URL suffix.
func FormatFromName(name string) Format {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if strings.EqualFold(path.Ext(name), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// DataFormatError reports a record that could not be normalized. A load that
// hits one fails as a whole.
type DataFormatError struct {
	Restaurant string
	Row        int
	Field      string
	Value      string
	Err        error
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("data format: restaurant %q row %d field %s value %q: %v", e.Restaurant, e.Row, e.Field, e.Value, e.Err)
}

func (e *DataFormatError) Unwrap() error {
	return e.Err
}

// rawRecord is one review as stored by the scraping backend.
type rawRecord struct {
	DateOfReview      string     `json:"DateOfReview"`
	StarRating        flexString `json:"StarRating"`
	ReviewDescription string     `json:"ReviewDescription"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("star rating must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// Decode parses a dataset blob into restaurant names (source order) and
// normalized datasets with reviews sorted newest first.
func Decode(format Format, data []byte) ([]string, map[string]*models.RestaurantDataset, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(data)
	case FormatJSON, "":
		return decodeJSON(data)
	default:
		return nil, nil, fmt.Errorf("unsupported dataset format %q", format)
	}
}

func decodeJSON(data []byte) ([]string, map[string]*models.RestaurantDataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("decode dataset: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("decode dataset: want object of restaurant name to reviews")
	}

	var names []string
	datasets := make(map[string]*models.RestaurantDataset)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("decode dataset: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("decode dataset: unexpected token %v", tok)
		}

		var records []rawRecord
		if err := dec.Decode(&records); err != nil {
			return nil, nil, fmt.Errorf("decode reviews for %q: %w", name, err)
		}

		reviews := make([]models.Review, 0, len(records))
		for i, rec := range records {
			review, err := normalize(name, i, rec)
			if err != nil {
				return nil, nil, err
			}
			reviews = append(reviews, review)
		}

		if _, seen := datasets[name]; !seen {
			names = append(names, name)
		}
		datasets[name] = newDataset(name, reviews)
	}

	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("decode dataset: %w", err)
	}
	return names, datasets, nil
}

var csvColumns = map[string][]string{
	"restaurant":  {"restaurant", "res_name", "restaurantname", "business_name"},
	"date":        {"dateofreview", "date_of_review"},
	"rating":      {"starrating", "star_rating"},
	"description": {"reviewdescription", "review_description"},
}

func decodeCSV(data []byte) ([]string, map[string]*models.RestaurantDataset, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	index, err := csvIndex(header)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	grouped := make(map[string][]models.Review)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		field := func(key string) string {
			i := index[key]
			if i < 0 || i >= len(record) {
				return ""
			}
			return record[i]
		}

		name := strings.TrimSpace(field("restaurant"))
		if name == "" {
			return nil, nil, &DataFormatError{Row: line, Field: "Restaurant", Err: errors.New("restaurant name is empty")}
		}
		review, err := normalize(name, line, rawRecord{
			DateOfReview:      field("date"),
			StarRating:        flexString(field("rating")),
			ReviewDescription: field("description"),
		})
		if err != nil {
			return nil, nil, err
		}
		if _, seen := grouped[name]; !seen {
			names = append(names, name)
		}
		grouped[name] = append(grouped[name], review)
	}

	datasets := make(map[string]*models.RestaurantDataset, len(grouped))
	for name, reviews := range grouped {
		datasets[name] = newDataset(name, reviews)
	}
	return names, datasets, nil
}

func csvIndex(header []string) (map[string]int, error) {
	index := map[string]int{"restaurant": -1, "date": -1, "rating": -1, "description": -1}
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		for key, aliases := range csvColumns {
			for _, alias := range aliases {
				if col == alias {
					index[key] = i
				}
			}
		}
	}
	for _, key := range []string{"restaurant", "date", "rating"} {
		if index[key] < 0 {
			return nil, fmt.Errorf("csv header missing %s column", key)
		}
	}
	return index, nil
}

func normalize(restaurant string, row int, rec rawRecord) (models.Review, error) {
	if _, err := parser.ParseDate(rec.DateOfReview); err != nil {
		return models.Review{}, &DataFormatError{Restaurant: restaurant, Row: row, Field: "DateOfReview", Value: rec.DateOfReview, Err: err}
	}
	if _, err := parser.ParseRating(string(rec.StarRating)); err != nil {
		return models.Review{}, &DataFormatError{Restaurant: restaurant, Row: row, Field: "StarRating", Value: string(rec.StarRating), Err: err}
	}
	return parser.NewReview(rec.DateOfReview, string(rec.StarRating), rec.ReviewDescription)
}

func newDataset(name string, reviews []models.Review) *models.RestaurantDataset {
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].DateOfReview.After(reviews[j].DateOfReview)
	})
	return &models.RestaurantDataset{Name: name, Reviews: reviews}
}
