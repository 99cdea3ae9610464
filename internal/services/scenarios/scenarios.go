// Package scenarios drives the fixed input sequence against a page driver and
// collects the result text after each step.
package scenarios

import (
	"strconv"

	"github.com/ternarybob/cohortprobe/internal/models"
)

// ScenarioCount is the number of fixed scenarios in a run
const ScenarioCount = 10

func assign(selector, value string) models.FieldAssignment {
	return models.FieldAssignment{Selector: selector, Value: value}
}

// Build returns the fixed scenario sequence for cohort. invalidCohort is the
// identifier used by the last scenario and must not exist in the data.
// sprintOneWait settles the sprint 1 scenario; every other one uses the step delay.
func Build(cohort, invalidCohort string, sprintOneWait models.WaitMode) []models.Scenario {
	out := make([]models.Scenario, 0, ScenarioCount)

	// Cohort alone
	out = append(out, models.Scenario{
		Number: 1,
		Assignments: []models.FieldAssignment{
			assign(models.FieldCohort, cohort),
			assign(models.FieldSprint, ""),
			assign(models.FieldProject, ""),
		},
		Wait: models.WaitDelay,
	})

	// Sprints 1..5. Sprint 1 can double as the data-loaded check.
	for i := 1; i <= 5; i++ {
		wait := models.WaitDelay
		if i == 1 {
			wait = sprintOneWait
		}
		out = append(out, models.Scenario{
			Number: i + 1,
			Assignments: []models.FieldAssignment{
				assign(models.FieldCohort, cohort),
				assign(models.FieldProject, ""),
				assign(models.FieldSprint, strconv.Itoa(i)),
			},
			Wait: wait,
		})
	}

	for _, project := range []string{"1", "фс"} {
		out = append(out, models.Scenario{
			Number: len(out) + 1,
			Assignments: []models.FieldAssignment{
				assign(models.FieldCohort, cohort),
				assign(models.FieldSprint, ""),
				assign(models.FieldProject, project),
			},
			Wait: models.WaitDelay,
		})
	}

	// Sprint and project together
	out = append(out, models.Scenario{
		Number: 9,
		Assignments: []models.FieldAssignment{
			assign(models.FieldCohort, cohort),
			assign(models.FieldSprint, "2"),
			assign(models.FieldProject, "1"),
		},
		Wait: models.WaitDelay,
	})

	out = append(out, models.Scenario{
		Number: 10,
		Assignments: []models.FieldAssignment{
			assign(models.FieldCohort, invalidCohort),
			assign(models.FieldSprint, "1"),
			assign(models.FieldProject, ""),
		},
		Wait: models.WaitDelay,
	})

	return out
}
