package scenarios

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
	"github.com/ternarybob/cohortprobe/internal/models"
	"github.com/ternarybob/cohortprobe/internal/services/driver"
)

// Options controls cohort selection and the waits between steps
type Options struct {
	Strategy        string
	FallbackCohort  string
	ProbeCandidates []string
	ProbeTimeout    time.Duration
	InvalidCohort   string
	SuccessPattern  *regexp.Regexp

	WaitTimeout  time.Duration
	PollInterval time.Duration
	StepDelay    time.Duration

	// ScreenshotsDir enables a capture after every scenario when the driver supports it
	ScreenshotsDir string
}

// OptionsFromConfig resolves durations and compiles the success pattern
func OptionsFromConfig(cfg *common.Config) (Options, error) {
	pattern, err := regexp.Compile(cfg.Scenarios.SuccessPattern)
	if err != nil {
		return Options{}, fmt.Errorf("invalid success pattern %q: %w", cfg.Scenarios.SuccessPattern, err)
	}

	return Options{
		Strategy:        cfg.CohortStrategy(),
		FallbackCohort:  cfg.Scenarios.FallbackCohort,
		ProbeCandidates: cfg.Scenarios.ProbeCandidates,
		ProbeTimeout:    common.ParseDuration(cfg.Scenarios.ProbeTimeout, 15*time.Second),
		InvalidCohort:   cfg.Scenarios.InvalidCohort,
		SuccessPattern:  pattern,
		WaitTimeout:     common.ParseDuration(cfg.Driver.WaitTimeout, driver.DefaultWaitTimeout),
		PollInterval:    common.ParseDuration(cfg.Driver.PollInterval, driver.DefaultPollInterval),
		StepDelay:       common.ParseDuration(cfg.Driver.StepDelay, 100*time.Millisecond),
		ScreenshotsDir:  cfg.Browser.ScreenshotsDir,
	}, nil
}

// Runner applies scenarios to a loaded page
type Runner struct {
	driver  interfaces.PageDriver
	options Options
	logger  arbor.ILogger
}

// NewRunner creates a runner for a driver whose page is already loaded
func NewRunner(d interfaces.PageDriver, options Options, logger arbor.ILogger) *Runner {
	return &Runner{
		driver:  d,
		options: options,
		logger:  logger,
	}
}

// Run selects the cohort, executes every scenario in order and returns the
// report. Any failure aborts the run; there is no partial report.
func (r *Runner) Run(ctx context.Context, resolution *interfaces.CohortResolution) (*models.Report, error) {
	report := &models.Report{
		Driver:    r.driver.Name(),
		CSVURL:    resolution.CSVURL,
		Cohorts:   resolution.Cohorts,
		StartedAt: time.Now(),
	}

	cohort, confirmed, err := r.selectCohort(ctx, resolution.Cohorts)
	if err != nil {
		return nil, err
	}
	report.Cohort = cohort

	// A cohort the page never answered for cannot be waited on
	sprintOneWait := models.WaitSuccess
	if !confirmed {
		sprintOneWait = models.WaitDelay
	}

	for _, scenario := range Build(cohort, r.options.InvalidCohort, sprintOneWait) {
		line, err := r.RunScenario(ctx, scenario)
		if err != nil {
			return nil, err
		}
		report.Lines = append(report.Lines, line)
	}

	report.FinishedAt = time.Now()
	r.logger.Info().
		Str("cohort", cohort).
		Int("scenarios", len(report.Lines)).
		Dur("duration", report.Duration()).
		Msg("Scenario run complete")

	return report, nil
}

// SelectCohort picks the cohort the scenarios run against
func (r *Runner) SelectCohort(ctx context.Context, cohorts []string) (string, error) {
	cohort, _, err := r.selectCohort(ctx, cohorts)
	return cohort, err
}

// selectCohort also reports whether the sprint 1 answer is expected to match
// the success pattern. That holds for the first strategy, which trusts the
// data, and for a probe that got an answer. It does not hold after a probe
// fell back to the current field value.
func (r *Runner) selectCohort(ctx context.Context, cohorts []string) (string, bool, error) {
	if r.options.Strategy == common.CohortStrategyProbe {
		return r.probeCohort(ctx, cohorts)
	}

	if len(cohorts) > 0 {
		return cohorts[0], true, nil
	}
	r.logger.Warn().
		Str("fallback", r.options.FallbackCohort).
		Msg("No cohorts in CSV, using fallback cohort")
	return r.options.FallbackCohort, true, nil
}

// probeCohort tries each candidate with sprint 1 until the page answers with
// the success text.
func (r *Runner) probeCohort(ctx context.Context, cohorts []string) (string, bool, error) {
	candidates := cohorts
	if len(candidates) == 0 {
		candidates = r.options.ProbeCandidates
	}

	for _, sel := range []string{models.FieldCohort, models.FieldSprint, models.FieldProject} {
		if err := r.driver.SetField(ctx, sel, ""); err != nil {
			return "", false, fmt.Errorf("reset %s: %w", sel, err)
		}
	}

	for _, candidate := range candidates {
		probe := []models.FieldAssignment{
			assign(models.FieldCohort, candidate),
			assign(models.FieldProject, ""),
			assign(models.FieldSprint, "1"),
		}
		if err := r.apply(ctx, probe); err != nil {
			return "", false, err
		}

		err := driver.WaitForText(ctx, r.driver, models.FieldResult, r.options.SuccessPattern,
			r.options.ProbeTimeout, r.options.PollInterval)
		if err == nil {
			r.logger.Info().Str("cohort", candidate).Msg("Probe found cohort")
			return candidate, true, nil
		}
		if !errors.Is(err, driver.ErrWaitTimeout) {
			return "", false, fmt.Errorf("probe cohort %s: %w", candidate, err)
		}
		r.logger.Debug().Str("cohort", candidate).Msg("Probe candidate did not answer")
	}

	current, err := r.driver.ReadField(ctx, models.FieldCohort)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", models.FieldCohort, err)
	}
	if current == "" {
		current = r.options.FallbackCohort
	}

	r.logger.Warn().
		Strs("candidates", candidates).
		Str("cohort", current).
		Msg("No probe candidate answered, continuing with current cohort")
	return current, false, nil
}

// RunScenario applies the assignments in order, settles and reads the result
func (r *Runner) RunScenario(ctx context.Context, scenario models.Scenario) (models.ReportLine, error) {
	r.logger.Debug().Str("scenario", scenario.String()).Msg("Running scenario")

	if err := r.apply(ctx, scenario.Assignments); err != nil {
		return models.ReportLine{}, fmt.Errorf("scenario %d: %w", scenario.Number, err)
	}

	switch scenario.Wait {
	case models.WaitSuccess:
		err := driver.WaitForText(ctx, r.driver, models.FieldResult, r.options.SuccessPattern,
			r.options.WaitTimeout, r.options.PollInterval)
		if err != nil {
			r.dumpPage(ctx)
			return models.ReportLine{}, fmt.Errorf("scenario %d: %w", scenario.Number, err)
		}
	default:
		if err := driver.Delay(ctx, r.options.StepDelay); err != nil {
			return models.ReportLine{}, fmt.Errorf("scenario %d: %w", scenario.Number, err)
		}
	}

	text, err := r.driver.ReadField(ctx, models.FieldResult)
	if err != nil {
		return models.ReportLine{}, fmt.Errorf("scenario %d: read %s: %w", scenario.Number, models.FieldResult, err)
	}

	r.screenshot(ctx, scenario.Number)

	line := models.ReportLine{
		Number:      scenario.Number,
		Description: scenario.Description(),
		Text:        text,
	}
	r.logger.Debug().Str("line", line.String()).Msg("Scenario result")
	return line, nil
}

func (r *Runner) apply(ctx context.Context, assignments []models.FieldAssignment) error {
	for _, a := range assignments {
		if err := r.driver.SetField(ctx, a.Selector, a.Value); err != nil {
			return fmt.Errorf("set %s: %w", a.Selector, err)
		}
	}
	return nil
}

// dumpPage logs the page state after a failed wait
func (r *Runner) dumpPage(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	driver.LogSnapshot(snapCtx, r.driver, "", r.logger)
}

func (r *Runner) screenshot(ctx context.Context, number int) {
	if r.options.ScreenshotsDir == "" {
		return
	}
	shooter, ok := r.driver.(driver.Screenshotter)
	if !ok {
		return
	}

	path := filepath.Join(r.options.ScreenshotsDir, fmt.Sprintf("scenario-%02d.png", number))
	if err := shooter.Screenshot(ctx, path); err != nil {
		r.logger.Warn().Err(err).Int("scenario", number).Msg("Failed to capture screenshot")
		return
	}
	r.logger.Debug().Str("path", path).Msg("Screenshot saved")
}
