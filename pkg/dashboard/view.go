package dashboard

import (
	"time"

	"github.com/smarttriage/platform/pkg/common/models"
)

type QueueItem struct {
	models.Patient
	RiskBadge       string `json:"risk_badge"`
	DepartmentLabel string `json:"department_label"`
}

type Filters struct {
	Risk       string `json:"risk"`
	Department string `json:"department"`
}

// View is everything the dashboard renders for one filter/selection state.
type View struct {
	Filters        Filters                  `json:"filters"`
	Total          int                      `json:"total"`
	Queue          []QueueItem              `json:"queue"`
	RiskCounts     map[models.RiskLevel]int `json:"risk_counts"`
	DepartmentLoad []DepartmentCount        `json:"department_load"`
	Departments    []string                 `json:"departments"`
	Selected       *models.Patient          `json:"selected"`
	FetchedAt      time.Time                `json:"fetched_at"`
}

// View builds the dashboard from the current snapshot. Counts and department
// options always cover the whole snapshot; only the queue is filtered.
func (a *Aggregator) View(risk, department string, selection Selection) View {
	if risk == "" {
		risk = All
	}
	if department == "" {
		department = All
	}

	patients := a.Patients()
	sorted := Sort(Filter(patients, risk, department))

	queue := make([]QueueItem, 0, len(sorted))
	for _, p := range sorted {
		queue = append(queue, QueueItem{
			Patient:         p,
			RiskBadge:       RiskBadge(p.RiskLevel),
			DepartmentLabel: DepartmentLabel(p.RecommendedDepartment),
		})
	}

	load := DepartmentLoadOrdered(patients)
	departments := make([]string, 0, len(load))
	for _, d := range load {
		departments = append(departments, d.Department)
	}

	return View{
		Filters:        Filters{Risk: risk, Department: department},
		Total:          len(patients),
		Queue:          queue,
		RiskCounts:     RiskCounts(patients),
		DepartmentLoad: load,
		Departments:    departments,
		Selected:       selection.Resolve(patients),
		FetchedAt:      a.FetchedAt(),
	}
}

func RiskBadge(level *models.RiskLevel) string {
	if level == nil {
		return PendingLabel
	}
	return string(*level)
}

func DepartmentLabel(department *string) string {
	if department == nil || *department == "" {
		return PendingLabel
	}
	return *department
}
