// Package query derives the ordered, filtered task view. Everything here is a
// pure function of its inputs and is recomputed on every call.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/taskmaster/taskpad/internal/domain/entities"
)

type SortKey string

const (
	SortByPriority  SortKey = "priority"
	SortByCreatedAt SortKey = "createdAt"
)

type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterCompleted StatusFilter = "completed"
	FilterPending   StatusFilter = "pending"
	FilterToday     StatusFilter = "today"
	FilterTomorrow  StatusFilter = "tomorrow"
	FilterPinned    StatusFilter = "pinned"
)

// Query holds the transient view parameters
type Query struct {
	SortKey   SortKey
	Direction Direction
	Filter    StatusFilter
	Search    string
	Date      *entities.Date
}

// Default is newest first, unfiltered
func Default() Query {
	return Query{
		SortKey:   SortByCreatedAt,
		Direction: Descending,
		Filter:    FilterAll,
	}
}

// Validate rejects unknown sort keys, directions and filters
func (q Query) Validate() error {
	switch q.SortKey {
	case SortByPriority, SortByCreatedAt:
	default:
		return fmt.Errorf("unknown sort key %q", q.SortKey)
	}
	switch q.Direction {
	case Ascending, Descending:
	default:
		return fmt.Errorf("unknown sort direction %q", q.Direction)
	}
	switch q.Filter {
	case FilterAll, FilterCompleted, FilterPending, FilterToday, FilterTomorrow, FilterPinned:
	default:
		return fmt.Errorf("unknown filter %q", q.Filter)
	}
	return nil
}

// RequestSort selects key; re-selecting the active ascending key flips it to descending.
func (q Query) RequestSort(key SortKey) Query {
	dir := Ascending
	if q.SortKey == key && q.Direction == Ascending {
		dir = Descending
	}
	q.SortKey = key
	q.Direction = dir
	return q
}

// Apply runs sort, status filter, search filter and date filter in that order.
// now supplies the local calendar day for the today/tomorrow filters.
func Apply(tasks []entities.Task, q Query, now time.Time) []entities.Task {
	sorted := Sort(tasks, q.SortKey, q.Direction)
	today := entities.DateOf(now)

	out := make([]entities.Task, 0, len(sorted))
	for _, t := range sorted {
		if !MatchStatus(t, q.Filter, today) {
			continue
		}
		if !MatchSearch(t, q.Search) {
			continue
		}
		if !MatchDate(t, q.Date) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Sort returns a stably sorted copy: pinned tasks first, then by key and direction.
func Sort(tasks []entities.Task, key SortKey, dir Direction) []entities.Task {
	out := make([]entities.Task, len(tasks))
	copy(out, tasks)

	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j], key, dir)
	})
	return out
}

func less(a, b entities.Task, key SortKey, dir Direction) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}

	c := compare(a, b, key)
	if dir == Descending {
		return c > 0
	}
	return c < 0
}

func compare(a, b entities.Task, key SortKey) int {
	switch key {
	case SortByPriority:
		return a.Priority.Rank() - b.Priority.Rank()
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// MatchStatus applies the status filter; today is the local calendar day.
func MatchStatus(t entities.Task, f StatusFilter, today entities.Date) bool {
	switch f {
	case FilterCompleted:
		return t.Completed
	case FilterPending:
		return !t.Completed
	case FilterToday:
		return t.IsDueOn(today)
	case FilterTomorrow:
		return t.IsDueOn(today.AddDays(1))
	case FilterPinned:
		return t.Pinned
	default:
		return true
	}
}

// MatchSearch is a case-insensitive substring match on the title
func MatchSearch(t entities.Task, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), strings.ToLower(search))
}

// MatchDate keeps tasks due on date, or everything when date is nil
func MatchDate(t entities.Task, date *entities.Date) bool {
	if date == nil {
		return true
	}
	return t.IsDueOn(*date)
}
