package models

// Server is the game service's record for a dedicated server.
type Server struct {
	GUID              string   `json:"Guid"`
	Name              string   `json:"ServerName"`
	Region            string   `json:"Region"`
	GameVersion       string   `json:"GameVersion"`
	GameType          string   `json:"GameType"`
	MaxUsers          int      `json:"MaxUsers"`
	Users             []string `json:"Users"`
	AveragePilotLevel float64  `json:"AveragePilotLevel"`
	IP                string   `json:"AssignedIp"`
	Port              int      `json:"AssignedPort"`
}

// Advertisement is a pending matchmaking or server reservation, polled
// until ReadyToDeliver flips true.
type Advertisement struct {
	GUID               string `json:"Guid"`
	ReadyToDeliver     bool   `json:"ReadyToDeliver"`
	AssignedServerGUID string `json:"AssignedServerGuid"`
	AssignedServerIP   string `json:"AssignedServerIp"`
	AssignedServerPort int    `json:"AssignedServerPort"`
}

// UserStats is the subset of per-user game stats the bot consumes.
type UserStats struct {
	UserID     string  `json:"Guid"`
	PilotLevel float64 `json:"Progress.Pilot.Level"`
	MMR        float64 `json:"MatchMaking.Rating"`
}

// GameGlobals holds the slow-changing game balance values the bot caches.
type GameGlobals struct {
	MMPilotLevelRange float64 `json:"MMPilotLevelRange"`
}
