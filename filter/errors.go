package filter

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnconfigured reports a filter used before the engine derived it. Seeing
// it from Apply means the caller passed no state at all.
var ErrUnconfigured = errors.New("filter: not configured")

// InvalidFilterRangeError rejects a range whose start lies after its end. The
// column keeps its previous range.
type InvalidFilterRangeError struct {
	Column string
	Start  string
	End    string
}

func (e *InvalidFilterRangeError) Error() string {
	return fmt.Sprintf("filter %s: start %s must be before or equal to end %s", e.Column, e.Start, e.End)
}

// ShapeError reports a selection that does not fit the column's strategy.
type ShapeError struct {
	Column string
	Have   Kind
	Want   Kind
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("filter %s: column is %s, not %s", e.Column, e.Have, e.Want)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
