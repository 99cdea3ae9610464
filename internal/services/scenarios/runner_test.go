package scenarios

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
	"github.com/ternarybob/cohortprobe/internal/models"
	"github.com/ternarybob/cohortprobe/internal/services/driver"
	"github.com/ternarybob/cohortprobe/internal/services/driver/domemu"
	"github.com/ternarybob/cohortprobe/test"
)

var successPattern = regexp.MustCompile(`(?i)Могу предложить тебе выйти`)

func testOptions() Options {
	return Options{
		Strategy:        common.CohortStrategyFirst,
		FallbackCohort:  "110",
		ProbeCandidates: []string{"110", "111", "112"},
		ProbeTimeout:    300 * time.Millisecond,
		InvalidCohort:   "99999",
		SuccessPattern:  successPattern,
		WaitTimeout:     5 * time.Second,
		PollInterval:    10 * time.Millisecond,
		StepDelay:       100 * time.Millisecond,
	}
}

// fakePage answers like the lookup page for a fixed set of sprints per cohort
type fakePage struct {
	fields  map[string]string
	sprints map[string][]string
	calls   []string
}

func newFakePage() *fakePage {
	return &fakePage{
		fields:  map[string]string{},
		sprints: map[string][]string{"112": {"1", "2"}},
	}
}

func (f *fakePage) Name() string { return "fake" }

func (f *fakePage) Load(context.Context, interfaces.PageSource) error { return nil }

func (f *fakePage) SetField(_ context.Context, selector, value string) error {
	f.calls = append(f.calls, selector+"="+value)
	f.fields[selector] = value
	return nil
}

func (f *fakePage) ReadField(_ context.Context, selector string) (string, error) {
	if selector != models.FieldResult {
		return f.fields[selector], nil
	}
	sprints, ok := f.sprints[f.fields[models.FieldCohort]]
	if !ok {
		return "no such cohort", nil
	}
	for _, s := range sprints {
		if s == f.fields[models.FieldSprint] && f.fields[models.FieldProject] == "" {
			return "Могу предложить тебе выйти в спринт " + s, nil
		}
	}
	return "nothing to suggest", nil
}

func (f *fakePage) Close() error { return nil }

func TestRunner_AppliesAssignmentsInOrderAndReadsAfterEach(t *testing.T) {
	page := newFakePage()
	r := NewRunner(page, testOptions(), arbor.NewLogger())

	line, err := r.RunScenario(context.Background(), Build("112", "99999", models.WaitSuccess)[1])
	require.NoError(t, err)

	assert.Equal(t, []string{"#cohort=112", "#project=", "#sprint=1"}, page.calls)
	assert.Equal(t, "2) cohort=112, sprint=1, project= -> Могу предложить тебе выйти в спринт 1", line.String())
}

func TestRunner_RunProducesTenLines(t *testing.T) {
	page := newFakePage()
	opts := testOptions()
	opts.StepDelay = time.Millisecond
	r := NewRunner(page, opts, arbor.NewLogger())

	report, err := r.Run(context.Background(), &interfaces.CohortResolution{
		CSVURL:  "http://example.test/c.csv",
		Cohorts: []string{"112", "115"},
	})
	require.NoError(t, err)

	assert.Equal(t, "112", report.Cohort)
	assert.Equal(t, "fake", report.Driver)
	assert.Equal(t, "http://example.test/c.csv", report.CSVURL)
	require.Len(t, report.Lines, ScenarioCount)
	assert.Equal(t, "10) cohort=99999, sprint=1, project= -> no such cohort", report.Lines[9].String())
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRunner_FirstStrategyFallback(t *testing.T) {
	r := NewRunner(newFakePage(), testOptions(), arbor.NewLogger())

	cohort, err := r.SelectCohort(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "110", cohort)
}

func TestRunner_ProbeFindsAnsweringCandidate(t *testing.T) {
	page := newFakePage()
	opts := testOptions()
	opts.Strategy = common.CohortStrategyProbe
	r := NewRunner(page, opts, arbor.NewLogger())

	cohort, err := r.SelectCohort(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "112", cohort)

	// Fields are cleared before the first candidate
	assert.Equal(t, []string{"#cohort=", "#sprint=", "#project="}, page.calls[:3])
}

func TestRunner_ProbePrefersCSVCohorts(t *testing.T) {
	page := newFakePage()
	page.sprints["115"] = []string{"1"}
	opts := testOptions()
	opts.Strategy = common.CohortStrategyProbe
	r := NewRunner(page, opts, arbor.NewLogger())

	cohort, err := r.SelectCohort(context.Background(), []string{"115", "112"})
	require.NoError(t, err)
	assert.Equal(t, "115", cohort)
}

func TestRunner_ProbeWithoutAnswerKeepsCurrentCohort(t *testing.T) {
	page := newFakePage()
	opts := testOptions()
	opts.Strategy = common.CohortStrategyProbe
	opts.ProbeCandidates = []string{"998", "999"}
	opts.ProbeTimeout = 50 * time.Millisecond
	r := NewRunner(page, opts, arbor.NewLogger())

	cohort, err := r.SelectCohort(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "999", cohort)
}

func TestRunner_ProbeFallbackStillReportsTenLines(t *testing.T) {
	page := newFakePage()
	page.sprints = map[string][]string{}
	opts := testOptions()
	opts.Strategy = common.CohortStrategyProbe
	opts.ProbeCandidates = []string{"998", "999"}
	opts.ProbeTimeout = 50 * time.Millisecond
	opts.WaitTimeout = 100 * time.Millisecond
	opts.StepDelay = time.Millisecond
	r := NewRunner(page, opts, arbor.NewLogger())

	report, err := r.Run(context.Background(), &interfaces.CohortResolution{CSVURL: "http://example.test/c.csv"})
	require.NoError(t, err)

	assert.Equal(t, "999", report.Cohort)
	require.Len(t, report.Lines, ScenarioCount)
	assert.Equal(t, "2) cohort=999, sprint=1, project= -> no such cohort", report.Lines[1].String())
}

func TestRunner_ProbeAnswerKeepsSuccessWait(t *testing.T) {
	page := newFakePage()
	opts := testOptions()
	opts.Strategy = common.CohortStrategyProbe
	opts.StepDelay = time.Millisecond
	r := NewRunner(page, opts, arbor.NewLogger())

	cohort, confirmed, err := r.selectCohort(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "112", cohort)
	assert.True(t, confirmed)
}

func TestRunner_SuccessWaitTimesOut(t *testing.T) {
	page := newFakePage()
	page.sprints = map[string][]string{}
	opts := testOptions()
	opts.WaitTimeout = 100 * time.Millisecond
	r := NewRunner(page, opts, arbor.NewLogger())

	_, err := r.RunScenario(context.Background(), Build("112", "99999", models.WaitSuccess)[1])
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrWaitTimeout))
	assert.Contains(t, err.Error(), "scenario 2")
}

func TestRunner_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(newFakePage(), testOptions(), arbor.NewLogger())
	_, err := r.RunScenario(ctx, Build("112", "99999", models.WaitSuccess)[0])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Driver.StepDelay = "250ms"

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, opts.StepDelay)
	assert.Equal(t, 30*time.Second, opts.WaitTimeout)
	assert.Equal(t, 15*time.Second, opts.ProbeTimeout)
	assert.True(t, opts.SuccessPattern.MatchString("могу предложить тебе выйти в спринт 1"))

	cfg.Scenarios.SuccessPattern = "("
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}

// runAgainstFixture drives the fixture lookup page in-process end to end
func runAgainstFixture(t *testing.T, site *test.LookupSite) *models.Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := domemu.New(domemu.WithLogger(arbor.NewLogger()))
	defer func() { _ = d.Close() }()

	require.NoError(t, d.Load(ctx, interfaces.PageSource{Markup: site.PageMarkup(), URL: site.PageURL()}))

	report, err := NewRunner(d, testOptions(), arbor.NewLogger()).Run(ctx, &interfaces.CohortResolution{
		CSVURL:  site.CSVURL(),
		Cohorts: []string{"112", "115"},
	})
	require.NoError(t, err)
	return report
}

func TestRunner_FixturePage(t *testing.T) {
	site := test.NewLookupSite(t)
	report := runAgainstFixture(t, site)

	require.Len(t, report.Lines, ScenarioCount)
	for _, line := range report.Lines {
		assert.NotEmpty(t, strings.TrimSpace(line.Text), "scenario %d", line.Number)
	}

	expected := map[int]string{
		2:  "Могу предложить тебе выйти в спринт 1 с 3 марта",
		3:  "Могу предложить тебе выйти в спринт 2 с 17 марта",
		4:  "Могу предложить тебе выйти в спринт 3 с 31 марта",
		5:  "Могу предложить тебе выйти в спринт 4 с 14 апреля",
		6:  "Спринт 5 не найден",
		7:  "Могу предложить тебе выйти на проект 1 с 28 апреля",
		8:  "Могу предложить тебе выйти на финальный спринт с 12 мая",
		9:  "Укажи либо спринт, либо проект",
		10: "Когорта 99999 не найдена",
	}
	for _, line := range report.Lines {
		if want, ok := expected[line.Number]; ok {
			assert.Equal(t, want, line.Text, "scenario %d", line.Number)
		}
	}
}

func TestRunner_SlowScheduleWaitsPastStepDelay(t *testing.T) {
	site := test.NewLookupSite(t)
	site.DelayCSV(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := domemu.New(domemu.WithLogger(arbor.NewLogger()))
	defer func() { _ = d.Close() }()
	require.NoError(t, d.Load(ctx, interfaces.PageSource{Markup: site.PageMarkup(), URL: site.PageURL()}))

	opts := testOptions()
	opts.StepDelay = 20 * time.Millisecond

	report, err := NewRunner(d, opts, arbor.NewLogger()).Run(ctx, &interfaces.CohortResolution{
		CSVURL:  site.CSVURL(),
		Cohorts: []string{"112"},
	})
	require.NoError(t, err)
	require.Len(t, report.Lines, ScenarioCount)

	// The schedule is still in flight after the first step delay
	assert.Equal(t, "Загружаю расписание...", report.Lines[0].Text)
	assert.Equal(t, "Могу предложить тебе выйти в спринт 1 с 3 марта", report.Lines[1].Text)
	assert.Equal(t, 1, site.CSVHits())
}

func TestRunner_InvalidCohortNeverMatchesSuccess(t *testing.T) {
	site := test.NewLookupSite(t)
	report := runAgainstFixture(t, site)

	last := report.Lines[len(report.Lines)-1]
	assert.Equal(t, "cohort=99999, sprint=1, project=", last.Description)
	assert.False(t, successPattern.MatchString(last.Text))
}

func TestRunner_RepeatedRunsAreIdentical(t *testing.T) {
	site := test.NewLookupSite(t)

	first := runAgainstFixture(t, site)
	second := runAgainstFixture(t, site)

	assert.Equal(t, first.Text(), second.Text())
}
