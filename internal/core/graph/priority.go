package graph

import (
	"math"
	"sort"
	"time"

	"github.com/vietddude/taskgraph/internal/core/domain"
)

const (
	// MaxScore caps the dynamic priority.
	MaxScore = 200

	overdueBonus   = 50
	threeDayBonus  = 30
	sevenDayBonus  = 15
	perDependent   = 10
	perHourEffort  = 2
	maxEffortBonus = 20
)

// DeadlineBonus scores deadline urgency relative to now.
func DeadlineBonus(due *time.Time, now time.Time) float64 {
	if due == nil {
		return 0
	}
	until := due.Sub(now)
	switch {
	case until < 0:
		return overdueBonus
	case until <= 3*24*time.Hour:
		return threeDayBonus
	case until <= 7*24*time.Hour:
		return sevenDayBonus
	default:
		return 0
	}
}

// EffortBonus is 2 per estimated hour, at most 20.
func EffortBonus(hours float64) float64 {
	if hours <= 0 {
		return 0
	}
	return math.Min(perHourEffort*hours, maxEffortBonus)
}

// Priority computes the dynamic priority of id against the snapshot. The
// second result is false when id is not in the snapshot.
func (g *Graph) Priority(id string, now time.Time) (PriorityScore, bool) {
	t, ok := g.tasks[id]
	if !ok {
		return PriorityScore{}, false
	}
	return g.score(t, now), true
}

func (g *Graph) score(t domain.Task, now time.Time) PriorityScore {
	s := PriorityScore{
		TaskID:     t.ID,
		Title:      t.Title,
		Base:       float64(t.Priority.BaseScore()),
		Deadline:   DeadlineBonus(t.DueDate, now),
		Dependents: float64(perDependent * len(g.dependents[t.ID])),
		Effort:     EffortBonus(t.EstimatedHours),
	}
	s.Score = math.Min(s.Base+s.Deadline+s.Dependents+s.Effort, MaxScore)
	return s
}

// Ranked scores every available task, highest first. Ties break by id.
func (g *Graph) Ranked(now time.Time) []PriorityScore {
	available := g.Available()
	out := make([]PriorityScore, 0, len(available))
	for _, t := range available {
		out = append(out, g.score(t, now))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}
