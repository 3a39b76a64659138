package dashboard

import (
	"time"
)

// Dashboard holds the aggregate statistics shown on the landing page.
type Dashboard struct {
	Patients       int             `json:"patients"`
	Referrals      int             `json:"referrals"`
	Tests          int             `json:"tests"`
	Labs           int             `json:"labs"`
	Completed      int             `json:"completed"`
	Pending        int             `json:"pending"`
	TestTypeData   []TestTypeCount `json:"test_type_data"`
	YearlyData     YearlyData      `json:"yearly_data"`
	MonthlyAgeData MonthlyAgeData  `json:"monthly_age_data"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Counts are the scalar totals. Referral totals honour the doctor filter.
type Counts struct {
	Patients  int
	Referrals int
	Tests     int
	Labs      int
	Completed int
	Pending   int
}

type TestTypeCount struct {
	TestType string `json:"test_type"`
	Count    int    `json:"count"`
}

// YearlyData lists patient registrations per year, split by gender.
// The three slices are index-aligned.
type YearlyData struct {
	Years      []string `json:"years"`
	MaleData   []int    `json:"male_data"`
	FemaleData []int    `json:"female_data"`
}

// MonthlyAgeData lists the rounded average patient age per registration
// month (YYYY-MM). The slices are index-aligned.
type MonthlyAgeData struct {
	Months      []string `json:"months"`
	AverageAges []int    `json:"average_ages"`
}

// PatientRow is the per-patient input of the registration charts.
type PatientRow struct {
	Gender    string
	Age       int
	CreatedAt time.Time
}
