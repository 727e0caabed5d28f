package tasks

import (
	"fmt"
	"time"
)

// Report is the weekly status summary.
type Report struct {
	Summary    string         `json:"summary"`
	Total      int            `json:"total"`
	Overdue    int            `json:"overdue"`
	ByCategory map[string]int `json:"byCategory"`
	OverdueBy  map[string]int `json:"overdueByCategory"`
	Generated  time.Time      `json:"generatedAt"`
}

// WeeklyReport summarizes list as of now.
func WeeklyReport(list []Task, now time.Time) Report {
	r := Report{
		Total:      len(list),
		ByCategory: make(map[string]int),
		OverdueBy:  make(map[string]int),
		Generated:  now,
	}
	for _, t := range list {
		cat := t.Category
		if cat == "" {
			cat = "Uncategorized"
		}
		r.ByCategory[cat]++
		if t.Overdue(now) {
			r.Overdue++
			r.OverdueBy[cat]++
		}
	}
	r.Summary = fmt.Sprintf("Weekly summary: %d tasks are overdue.", r.Overdue)
	return r
}
