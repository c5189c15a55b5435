package github

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/window"
)

const calendarQuery = `
query($username: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $username) {
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar {
        weeks {
          contributionDays {
            date
            contributionCount
          }
        }
      }
    }
  }
}`

// CalendarDay is one cell of the contribution calendar.
type CalendarDay struct {
	Date              string `json:"date"`
	ContributionCount int    `json:"contributionCount"`
}

type calendarResponse struct {
	Data *struct {
		User *struct {
			ContributionsCollection *struct {
				ContributionCalendar *struct {
					Weeks []struct {
						ContributionDays []CalendarDay `json:"contributionDays"`
					} `json:"weeks"`
				} `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	} `json:"data"`
}

func (r calendarResponse) days() ([]CalendarDay, error) {
	if r.Data == nil || r.Data.User == nil || r.Data.User.ContributionsCollection == nil ||
		r.Data.User.ContributionsCollection.ContributionCalendar == nil {
		return nil, model.NewFailure(model.FailureMalformedResponse,
			"missing field data.user.contributionsCollection.contributionCalendar", nil)
	}
	var out []CalendarDay
	for _, w := range r.Data.User.ContributionsCollection.ContributionCalendar.Weeks {
		out = append(out, w.ContributionDays...)
	}
	return out, nil
}

// CurrentStreak returns the number of consecutive UTC days, ending today,
// with at least one contribution. Today is not counted against the streak
// while it still has zero contributions.
func (c *Client) CurrentStreak(ctx context.Context, now time.Time, creds Credentials) (int, error) {
	today := window.Current(now)
	body, err := c.post(ctx, creds, calendarQuery, map[string]any{
		"username": creds.Username,
		"from":     formatTime(calendarStart(today)),
		"to":       formatTime(today.End),
	})
	if err != nil {
		return 0, err
	}

	var resp calendarResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, model.NewFailure(model.FailureMalformedResponse, "github: decode calendar", err)
	}
	days, err := resp.days()
	if err != nil {
		return 0, err
	}
	return StreakFrom(days, today.Start), nil
}

// calendarStart returns the earliest day of the calendar ending with today.
// GitHub rejects a contributionsCollection range longer than one year, so the
// range runs from the same date a year before tomorrow.
func calendarStart(today window.Window) time.Time {
	return today.Reset().AddDate(-1, 0, 0)
}

// StreakFrom counts consecutive days with contributions walking back from
// today. A zero count today is skipped; a zero or missing earlier day ends
// the streak.
func StreakFrom(days []CalendarDay, today time.Time) int {
	counts := make(map[string]int, len(days))
	for _, d := range days {
		counts[d.Date] = d.ContributionCount
	}

	day := window.Current(today).Start
	streak := 0
	if counts[day.Format(window.DayKeyLayout)] == 0 {
		day = day.Add(-window.Day)
	}
	for {
		n, ok := counts[day.Format(window.DayKeyLayout)]
		if !ok || n <= 0 {
			return streak
		}
		streak++
		day = day.Add(-window.Day)
	}
}
