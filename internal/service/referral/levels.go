package referral

import "loyalty-service/internal/model"

// Level thresholds over lifetime conversions. Counters only grow, so there
// is no demotion path.
const (
	silverThreshold  = 6
	goldThreshold    = 16
	diamondThreshold = 31
)

var pointsPerReferral = map[model.UserLevel]int{
	model.LevelBronze:  200,
	model.LevelSilver:  250,
	model.LevelGold:    300,
	model.LevelDiamond: 400,
}

func LevelForReferrals(total int) model.UserLevel {
	switch {
	case total >= diamondThreshold:
		return model.LevelDiamond
	case total >= goldThreshold:
		return model.LevelGold
	case total >= silverThreshold:
		return model.LevelSilver
	default:
		return model.LevelBronze
	}
}

func PointsPerReferral(level model.UserLevel) int {
	if points, ok := pointsPerReferral[level]; ok {
		return points
	}
	return pointsPerReferral[model.LevelBronze]
}
