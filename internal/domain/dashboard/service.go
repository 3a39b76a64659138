package dashboard

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Get assembles the dashboard. doctorID, when set, scopes the referral
// statistics to one doctor.
func (s *Service) Get(ctx context.Context, doctorID *uuid.UUID) (*Dashboard, error) {
	counts, err := s.repo.Counts(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	byType, err := s.repo.ReferralsByTestType(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.PatientRows(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Patients:       counts.Patients,
		Referrals:      counts.Referrals,
		Tests:          counts.Tests,
		Labs:           counts.Labs,
		Completed:      counts.Completed,
		Pending:        counts.Pending,
		TestTypeData:   byType,
		YearlyData:     yearlyByGender(rows),
		MonthlyAgeData: monthlyAverageAge(rows),
		GeneratedAt:    s.now().UTC(),
	}
	if d.TestTypeData == nil {
		d.TestTypeData = []TestTypeCount{}
	}
	return d, nil
}

// yearlyByGender counts registrations per year. Genders other than male and
// female are counted in no series but still produce the year.
func yearlyByGender(rows []PatientRow) YearlyData {
	type tally struct{ male, female int }
	byYear := map[string]*tally{}
	for _, r := range rows {
		year := strconv.Itoa(r.CreatedAt.UTC().Year())
		t, ok := byYear[year]
		if !ok {
			t = &tally{}
			byYear[year] = t
		}
		switch strings.ToLower(strings.TrimSpace(r.Gender)) {
		case "male":
			t.male++
		case "female":
			t.female++
		}
	}

	out := YearlyData{Years: sortedKeys(byYear), MaleData: []int{}, FemaleData: []int{}}
	for _, y := range out.Years {
		out.MaleData = append(out.MaleData, byYear[y].male)
		out.FemaleData = append(out.FemaleData, byYear[y].female)
	}
	return out
}

func monthlyAverageAge(rows []PatientRow) MonthlyAgeData {
	type acc struct{ sum, n int }
	byMonth := map[string]*acc{}
	for _, r := range rows {
		month := r.CreatedAt.UTC().Format("2006-01")
		a, ok := byMonth[month]
		if !ok {
			a = &acc{}
			byMonth[month] = a
		}
		a.sum += r.Age
		a.n++
	}

	out := MonthlyAgeData{Months: sortedKeys(byMonth), AverageAges: []int{}}
	for _, m := range out.Months {
		a := byMonth[m]
		out.AverageAges = append(out.AverageAges, int(math.Floor(float64(a.sum)/float64(a.n)+0.5)))
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
