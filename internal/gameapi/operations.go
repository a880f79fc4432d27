package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"scrimbot/internal/models"
)

// UserID resolves a callsign to its stable user id.
func (c *Client) UserID(ctx context.Context, callsign string) (string, error) {
	var result struct {
		GUID string `json:"Guid"`
	}
	path := fmt.Sprintf("/users/%s/guid", url.PathEscape(callsign))
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	return result.GUID, nil
}

// Callsign resolves a user id to its current callsign.
func (c *Client) Callsign(ctx context.Context, userID string) (string, error) {
	var result struct {
		Callsign string `json:"UniqueCaseInsensitive_Callsign"`
	}
	path := fmt.Sprintf("/userPublicReadOnlyData/%s", url.PathEscape(userID))
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	return result.Callsign, nil
}

// UserStats fetches stats for a batch of user ids. When the service flags
// the batch invalid, ErrInvalidBatch is returned and callers decide whether
// to prune and retry.
func (c *Client) UserStats(ctx context.Context, userIDs []string) ([]models.UserStats, error) {
	body := map[string][]string{"Guids": userIDs}
	var result []models.UserStats
	if err := c.request(ctx, http.MethodPost, "/userStats/batch", body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Server fetches a single game server record by id.
func (c *Client) Server(ctx context.Context, serverID string) (*models.Server, error) {
	var result models.Server
	path := fmt.Sprintf("/gameServerListings/%s", url.PathEscape(serverID))
	err := c.request(ctx, http.MethodGet, path, nil, &result)
	if errors.Is(err, ErrRequest) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ServersByName lists servers whose names contain the given fragment.
func (c *Client) ServersByName(ctx context.Context, name string) ([]models.Server, error) {
	var result []models.Server
	path := fmt.Sprintf("/gameServerListings?name=%s", url.QueryEscape(name))
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GlobalsItem fetches one game globals item into out.
func (c *Client) GlobalsItem(ctx context.Context, key string, out interface{}) error {
	path := fmt.Sprintf("/gameClientSettings/%s", url.PathEscape(key))
	return c.request(ctx, http.MethodGet, path, nil, out)
}

// PostServerAdvertisement creates a reservation targeted at a specific
// server and returns the advertisement id to poll.
func (c *Client) PostServerAdvertisement(ctx context.Context, gameVersion, region, serverGUID string, users []string, partyGUID string) (string, error) {
	body := map[string]interface{}{
		"GameVersion":         gameVersion,
		"Region":              region,
		"RequestedServerGuid": serverGUID,
		"Users":               users,
	}
	if partyGUID != "" {
		body["PartyGuid"] = partyGUID
	}
	return c.postAdvertisement(ctx, "/serverAdvertisements", body)
}

// PostMatchmakingAdvertisement creates a matchmade reservation and returns
// the advertisement id to poll.
func (c *Client) PostMatchmakingAdvertisement(ctx context.Context, gameVersion, region, gameType string, users []string, partyGUID string) (string, error) {
	body := map[string]interface{}{
		"GameVersion": gameVersion,
		"Region":      region,
		"Users":       users,
	}
	if gameType != "" {
		body["GameType"] = gameType
	}
	if partyGUID != "" {
		body["PartyGuid"] = partyGUID
	}
	return c.postAdvertisement(ctx, "/matchAdvertisements", body)
}

func (c *Client) postAdvertisement(ctx context.Context, path string, body map[string]interface{}) (string, error) {
	var result struct {
		GUID string `json:"Guid"`
	}
	if err := c.request(ctx, http.MethodPost, path, body, &result); err != nil {
		return "", err
	}
	if result.GUID == "" {
		return "", fmt.Errorf("%w: advertisement response carried no id", ErrRequest)
	}
	return result.GUID, nil
}

// Advertisement fetches an advertisement by id. A nil result with nil error
// means the service no longer knows the advertisement.
func (c *Client) Advertisement(ctx context.Context, advID string) (*models.Advertisement, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/advertisements/%s", url.PathEscape(advID))
	if err := c.request(ctx, http.MethodGet, path, nil, &raw); err != nil {
		if errors.Is(err, ErrRequest) {
			return nil, nil
		}
		return nil, err
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, nil
	}
	var adv models.Advertisement
	if err := json.Unmarshal(raw, &adv); err != nil {
		return nil, fmt.Errorf("gameapi: decode advertisement: %w", err)
	}
	if adv.GUID == "" {
		adv.GUID = advID
	}
	return &adv, nil
}

// DeleteAdvertisement removes an advertisement. Deleting one the service
// already dropped is not an error.
func (c *Client) DeleteAdvertisement(ctx context.Context, advID string) error {
	path := fmt.Sprintf("/advertisements/%s", url.PathEscape(advID))
	err := c.request(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrRequest) {
		return nil
	}
	return err
}
