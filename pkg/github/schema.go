package github

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/streakwatch/internal/model"
)

const contributionCountQuery = `
query($username: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $username) {
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar {
        totalContributions
      }
    }
  }
}`

// countPath is the nested field that carries the total.
var countPath = []string{"data", "user", "contributionsCollection", "contributionCalendar", "totalContributions"}

// countResponse is the expected shape of a contribution count response.
// Pointers distinguish absent (or null) objects from zero values.
type countResponse struct {
	Data *struct {
		User *struct {
			ContributionsCollection *struct {
				ContributionCalendar *struct {
					TotalContributions *json.RawMessage `json:"totalContributions"`
				} `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	} `json:"data"`
}

func (r countResponse) total() (int, error) {
	switch {
	case r.Data == nil:
		return 0, missingField(1)
	case r.Data.User == nil:
		return 0, missingField(2)
	case r.Data.User.ContributionsCollection == nil:
		return 0, missingField(3)
	case r.Data.User.ContributionsCollection.ContributionCalendar == nil:
		return 0, missingField(4)
	}

	raw := r.Data.User.ContributionsCollection.ContributionCalendar.TotalContributions
	if raw == nil {
		return 0, missingField(5)
	}

	var total int64
	if err := json.Unmarshal(*raw, &total); err != nil {
		return 0, model.NewFailure(model.FailureMalformedResponse,
			strings.Join(countPath, ".")+": not an integer: "+string(*raw), err)
	}
	if total < 0 {
		return 0, model.NewFailure(model.FailureMalformedResponse,
			strings.Join(countPath, ".")+": negative total: "+string(*raw), nil)
	}
	return int(total), nil
}

// missingField reports the path up to and including the first absent segment.
func missingField(depth int) error {
	return model.NewFailure(model.FailureMalformedResponse,
		"missing field "+strings.Join(countPath[:depth], "."), nil)
}
