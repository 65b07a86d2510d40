package mypts

// Reward defines the MyPts granted for a recognized activity. Unique rewards
// may be granted once per (profile, activity, reference) triple.
type Reward struct {
	Amount int64
	Unique bool
}

var activityRewards = map[string]Reward{
	"daily_login":         {Amount: 10},
	"profile_completion":  {Amount: 50, Unique: true},
	"referral":            {Amount: 100, Unique: true},
	"connection_accepted": {Amount: 5},
	"post_created":        {Amount: 2},
	"review_submitted":    {Amount: 15},
}

// RewardFor looks up the reward for an activity type.
func RewardFor(activityType string) (Reward, bool) {
	reward, ok := activityRewards[activityType]
	return reward, ok
}

// Activities returns the recognized activity types.
func Activities() []string {
	out := make([]string, 0, len(activityRewards))
	for activity := range activityRewards {
		out = append(out, activity)
	}
	return out
}
