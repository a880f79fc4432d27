package reservation

import (
	"context"
	"fmt"

	"scrimbot/internal/models"
)

// ServerReservation reserves slots for a set of users on one specific
// server.
type ServerReservation struct {
	base
	server    *models.Server
	partyGUID string
	globals   *models.GameGlobals
}

func NewServerReservation(api API, log Logger, server *models.Server, users []string, partyGUID string, opts Options) *ServerReservation {
	pollRate := opts.PollRate
	if pollRate <= 0 {
		pollRate = DefaultServerPollRate
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultServerLimit
	}
	return &ServerReservation{
		base:      newBase(api, log, users, pollRate, limit),
		server:    server,
		partyGUID: partyGUID,
		globals:   opts.Globals,
	}
}

func (r *ServerReservation) Server() *models.Server {
	return r.server
}

// Reserve posts the server advertisement and records its id.
func (r *ServerReservation) Reserve(ctx context.Context) error {
	advID, err := r.api.PostServerAdvertisement(ctx, r.server.GameVersion, r.server.Region, r.server.GUID, r.users, r.partyGUID)
	if err != nil {
		return err
	}
	r.setAdvertisementID(advID)
	return nil
}

// Check inspects the target server before reserving. The critical flag
// means the reservation cannot possibly succeed; warnings describe
// conditions the leader may want to know about.
func (r *ServerReservation) Check(ctx context.Context) (bool, []string) {
	var issues []string

	if r.server.MaxUsers < len(r.users) {
		issues = append(issues,
			fmt.Sprintf("server '%s' has a player limit of %d, the group has %d", r.server.Name, r.server.MaxUsers, len(r.users)))
		return true, issues
	}

	if len(r.server.Users)+len(r.users) > r.server.MaxUsers {
		issues = append(issues,
			fmt.Sprintf("server '%s' is almost full: %d playing, %d joining, %d slots", r.server.Name, len(r.server.Users), len(r.users), r.server.MaxUsers))
	}

	if warn, ok := r.pilotLevelWarning(ctx); ok {
		issues = append(issues, warn)
	}

	return false, issues
}

// pilotLevelWarning compares the group's mean pilot level against the
// server's average plus the matchmaking range from the game globals. Stats
// failures skip the check silently.
func (r *ServerReservation) pilotLevelWarning(ctx context.Context) (string, bool) {
	if r.server.AveragePilotLevel <= 0 || r.globals == nil {
		return "", false
	}
	stats, err := r.api.UserStats(ctx, r.users)
	if err != nil || len(stats) == 0 {
		return "", false
	}
	var total float64
	for _, s := range stats {
		total += s.PilotLevel
	}
	mean := total / float64(len(stats))
	ceiling := r.server.AveragePilotLevel + r.globals.MMPilotLevelRange
	if mean > ceiling {
		return fmt.Sprintf("the group's average pilot level (%.0f) is above the server's matchmaking range (%.0f)", mean, ceiling), true
	}
	return "", false
}
