package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/reviewdash/aggregate"
	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/parser"
)

func dataset(t *testing.T) *models.RestaurantDataset {
	t.Helper()
	rows := [][3]string{
		{"2024-03-02", "5", "Crispy prata"},
		{"2024-03-01", "5", "nil"},
		{"2024-02-14", "4", "Good value"},
		{"2024-01-20", "3", "No description provided"},
	}
	ds := &models.RestaurantDataset{Name: "Zam Zam"}
	for _, row := range rows {
		r, err := parser.NewReview(row[0], row[1], row[2])
		require.NoError(t, err)
		ds.Reviews = append(ds.Reviews, r)
	}
	return ds
}

func TestDeriveIncludesEmptyDescriptions(t *testing.T) {
	view, err := Derive(dataset(t), filter.DefaultColumns(), filter.NewState(), true)
	require.NoError(t, err)

	assert.Equal(t, "Zam Zam", view.Restaurant)
	assert.Equal(t, "ok", view.Status)
	assert.Len(t, view.Reviews, 4)
	assert.Equal(t, 4.25, view.Filtered.Mean)
	assert.Equal(t, 2, view.Totals.WithoutDescription)
	assert.Equal(t, []string{"Jan-2024", "Feb-2024", "Mar-2024"}, labels(view.Monthly))

	total := 0
	for _, bar := range view.Histogram {
		total += bar.Count
	}
	assert.Equal(t, len(view.Reviews), total)
}

func TestDeriveDropsEmptyDescriptionsFirst(t *testing.T) {
	view, err := Derive(dataset(t), filter.DefaultColumns(), filter.NewState(), false)
	require.NoError(t, err)

	assert.Len(t, view.Reviews, 2)
	for _, r := range view.Reviews {
		assert.True(t, r.HasDescription)
	}
	assert.Equal(t, 4, view.Totals.Total, "totals describe the whole dataset")
	assert.Equal(t, 4.5, view.Filtered.Mean)
}

func TestDeriveCarriesFilterState(t *testing.T) {
	ds := dataset(t)
	first, err := Derive(ds, filter.DefaultColumns(), filter.NewState(), true)
	require.NoError(t, err)
	require.NoError(t, first.State.SetRange(filter.ColumnStarRating, 5, 5))

	second, err := Derive(ds, filter.DefaultColumns(), first.State, true)
	require.NoError(t, err)
	assert.Len(t, second.Reviews, 2)

	require.NoError(t, second.State.SetRange(filter.ColumnStarRating, 5, 1))
	third, err := Derive(ds, filter.DefaultColumns(), second.State, true)
	require.NoError(t, err)
	assert.Contains(t, third.FilterErrors, filter.ColumnStarRating)
	assert.Equal(t, second.Reviews, third.Reviews)
}

func TestDeriveEmptyAndMissing(t *testing.T) {
	view, err := Derive(nil, filter.DefaultColumns(), filter.NewState(), true)
	require.NoError(t, err)
	assert.Equal(t, "no_data", view.Status)
	assert.False(t, view.Filtered.HasMean)

	ds := dataset(t)
	first, err := Derive(ds, filter.DefaultColumns(), filter.NewState(), true)
	require.NoError(t, err)
	require.NoError(t, first.State.SetPattern(filter.ColumnDescription, "sushi"))
	empty, err := Derive(ds, filter.DefaultColumns(), first.State, true)
	require.NoError(t, err)
	assert.Equal(t, "empty", empty.Status)
	assert.Empty(t, empty.Histogram)

	_, err = Derive(ds, filter.DefaultColumns(), nil, true)
	assert.ErrorIs(t, err, filter.ErrUnconfigured)
}

func labels(points []aggregate.MonthlyPoint) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, p.Label)
	}
	return out
}
