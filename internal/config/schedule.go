package config

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// JobSchedule carries the cron expressions for a single background job.
// LowCostCron is the reduced-frequency fallback used when the deployment
// needs to keep datastore request counts down.
type JobSchedule struct {
	Cron        string `yaml:"cron"`
	LowCostCron string `yaml:"low_cost_cron"`
}

// ScheduleProfile maps job names to their schedules.
type ScheduleProfile struct {
	Jobs map[string]JobSchedule `yaml:"jobs"`
}

// DefaultScheduleProfile returns the built-in schedules used when no
// profile file is present.
func DefaultScheduleProfile() *ScheduleProfile {
	return &ScheduleProfile{
		Jobs: map[string]JobSchedule{
			"analytics_aggregation": {Cron: "0 1 * * *", LowCostCron: "0 3 * * 0"},
			"lead_scoring":          {Cron: "*/30 * * * *", LowCostCron: "0 */6 * * *"},
			"token_refresh":         {Cron: "*/15 * * * *", LowCostCron: "0 * * * *"},
			"cache_warming":         {Cron: "*/10 * * * *", LowCostCron: "0 */2 * * *"},
			"archive":               {Cron: "0 2 * * *", LowCostCron: "0 4 * * 0"},
		},
	}
}

// LoadScheduleProfile reads the schedule profile from a YAML file, falling
// back to defaults for any job the file does not mention. Expressions are
// validated with the standard 5-field cron parser.
func LoadScheduleProfile(path string) (*ScheduleProfile, error) {
	profile := DefaultScheduleProfile()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profile, nil
		}
		return nil, fmt.Errorf("failed to read schedule profile: %w", err)
	}

	var fileProfile ScheduleProfile
	if err := yaml.Unmarshal(data, &fileProfile); err != nil {
		return nil, fmt.Errorf("failed to parse schedule profile: %w", err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for name, sched := range fileProfile.Jobs {
		if sched.Cron != "" {
			if _, err := parser.Parse(sched.Cron); err != nil {
				return nil, fmt.Errorf("invalid cron expression for job %q: %w", name, err)
			}
		}
		merged := profile.Jobs[name]
		if sched.Cron != "" {
			merged.Cron = sched.Cron
		}
		if sched.LowCostCron != "" {
			if _, err := parser.Parse(sched.LowCostCron); err != nil {
				return nil, fmt.Errorf("invalid low-cost cron expression for job %q: %w", name, err)
			}
			merged.LowCostCron = sched.LowCostCron
		}
		profile.Jobs[name] = merged
	}

	return profile, nil
}

// CronFor returns the effective cron expression for a job under the given
// cost profile, or "" if the job is unknown.
func (p *ScheduleProfile) CronFor(job string, lowCost bool) string {
	sched, ok := p.Jobs[job]
	if !ok {
		return ""
	}
	if lowCost && sched.LowCostCron != "" {
		return sched.LowCostCron
	}
	return sched.Cron
}
