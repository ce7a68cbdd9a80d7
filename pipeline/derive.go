package pipeline

import (
	"github.com/aluiziolira/reviewdash/aggregate"
	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/models"
)

// View is everything the dashboard renders for one restaurant.
type View struct {
	Restaurant   string                   `json:"restaurant"`
	IncludeEmpty bool                     `json:"include_empty"`
	Status       string                   `json:"status"`
	Totals       aggregate.Summary        `json:"totals"`
	Filtered     aggregate.Summary        `json:"filtered"`
	Histogram    []aggregate.RatingCount  `json:"histogram"`
	Monthly      []aggregate.MonthlyPoint `json:"monthly"`
	Reviews      []models.Review          `json:"reviews"`
	Choices      []filter.Choices         `json:"choices"`
	FilterErrors map[string]string        `json:"filter_errors,omitempty"`

	// State is the filter state to keep for the next derivation.
	State *filter.State `json:"-"`
}

// Derive re-computes a view: the description toggle first, then the column
// filters, then the aggregates. It has no side effects; state is not
// modified and the updated state is returned in View.State.
func Derive(ds *models.RestaurantDataset, columns []filter.Column, state *filter.State, includeEmpty bool) (*View, error) {
	var reviews []models.Review
	name := ""
	if ds != nil {
		reviews = ds.Reviews
		name = ds.Name
	}

	table := reviews
	if !includeEmpty {
		table = make([]models.Review, 0, len(reviews))
		for _, r := range reviews {
			if r.HasDescription {
				table = append(table, r)
			}
		}
	}

	res, err := filter.Apply(table, columns, state)
	if err != nil {
		return nil, err
	}

	view := &View{
		Restaurant:   name,
		IncludeEmpty: includeEmpty,
		Status:       res.Status.String(),
		Totals:       aggregate.Summarize(reviews),
		Filtered:     aggregate.Summarize(res.Reviews),
		Histogram:    aggregate.RatingHistogram(res.Reviews),
		Monthly:      aggregate.MonthlySeries(res.Reviews),
		Reviews:      res.Reviews,
		Choices:      res.Choices,
		State:        res.State,
	}
	if len(res.ColumnErrors) > 0 {
		view.FilterErrors = make(map[string]string, len(res.ColumnErrors))
		for column, err := range res.ColumnErrors {
			view.FilterErrors[column] = err.Error()
		}
	}
	return view, nil
}
