package reservation

import "context"

// MatchmakingReservation asks the matchmaker for any suitable server in a
// region.
type MatchmakingReservation struct {
	base
	gameVersion string
	region      string
	gameType    string
	partyGUID   string
}

func NewMatchmakingReservation(api API, log Logger, gameVersion, region, gameType string, users []string, partyGUID string, opts Options) *MatchmakingReservation {
	pollRate := opts.PollRate
	if pollRate <= 0 {
		pollRate = DefaultMatchmakingPollRate
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultMatchmakingLimit
	}
	return &MatchmakingReservation{
		base:        newBase(api, log, users, pollRate, limit),
		gameVersion: gameVersion,
		region:      region,
		gameType:    gameType,
		partyGUID:   partyGUID,
	}
}

func (r *MatchmakingReservation) Reserve(ctx context.Context) error {
	advID, err := r.api.PostMatchmakingAdvertisement(ctx, r.gameVersion, r.region, r.gameType, r.users, r.partyGUID)
	if err != nil {
		return err
	}
	r.setAdvertisementID(advID)
	return nil
}

// Check has nothing to verify for matchmade reservations; the matchmaker
// picks a server that fits.
func (r *MatchmakingReservation) Check(ctx context.Context) (bool, []string) {
	return false, nil
}
