package client

import (
	"context"
	"fmt"
	"strconv"
)

// AdminClient exposes the administrative endpoints. It shares the owning
// Client's credentials and HTTP plumbing.
type AdminClient struct {
	client *Client
}

// GetSettings returns the service settings.
func (a *AdminClient) GetSettings(ctx context.Context) (map[string]any, error) {
	result, err := a.client.get(ctx, "/api/settings", nil)
	if err != nil {
		return nil, err
	}
	return objectField(result, "settings")
}

// --------------------------------------------------------------------------
// Teams
// --------------------------------------------------------------------------

// ListTeams returns all teams.
func (a *AdminClient) ListTeams(ctx context.Context) ([]map[string]any, error) {
	result, err := a.client.get(ctx, "/api/teams", nil)
	if err != nil {
		return nil, err
	}
	return listField(result, "teams")
}

// CreateTeam creates a team.
func (a *AdminClient) CreateTeam(ctx context.Context, name string) (map[string]any, error) {
	result, err := a.client.post(ctx, "/api/teams", map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return objectField(result, "team")
}

// GetTeam returns one team by primary key.
func (a *AdminClient) GetTeam(ctx context.Context, teamPK int) (map[string]any, error) {
	result, err := a.client.get(ctx, "/api/teams/"+strconv.Itoa(teamPK), nil)
	if err != nil {
		return nil, err
	}
	return objectField(result, "team")
}

// UpdateTeam renames a team.
func (a *AdminClient) UpdateTeam(ctx context.Context, teamPK int, name string) (map[string]any, error) {
	result, err := a.client.patch(ctx, "/api/teams/"+strconv.Itoa(teamPK), map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return objectField(result, "team")
}

// DeleteTeam deletes a team.
func (a *AdminClient) DeleteTeam(ctx context.Context, teamPK int) error {
	return a.client.delete(ctx, "/api/teams/"+strconv.Itoa(teamPK))
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

// ListUsers returns all users.
func (a *AdminClient) ListUsers(ctx context.Context) ([]map[string]any, error) {
	result, err := a.client.get(ctx, "/api/users", nil)
	if err != nil {
		return nil, err
	}
	return listField(result, "users")
}

// GetUser returns one user by primary key.
func (a *AdminClient) GetUser(ctx context.Context, userPK int) (map[string]any, error) {
	result, err := a.client.get(ctx, "/api/users/"+strconv.Itoa(userPK), nil)
	if err != nil {
		return nil, err
	}
	return objectField(result, "user")
}

// UpdateUser renames a user.
func (a *AdminClient) UpdateUser(ctx context.Context, userPK int, name string) (map[string]any, error) {
	result, err := a.client.patch(ctx, "/api/users/"+strconv.Itoa(userPK), map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return objectField(result, "user")
}

// DeleteUser deletes a user.
func (a *AdminClient) DeleteUser(ctx context.Context, userPK int) error {
	return a.client.delete(ctx, "/api/users/"+strconv.Itoa(userPK))
}

// AddUserToTeam adds a user to a team.
func (a *AdminClient) AddUserToTeam(ctx context.Context, userPK, teamPK int) error {
	_, err := a.client.post(ctx, "/api/users/"+strconv.Itoa(userPK)+"/teams/"+strconv.Itoa(teamPK), nil)
	return err
}

// RemoveUserFromTeam removes a user from a team.
func (a *AdminClient) RemoveUserFromTeam(ctx context.Context, userPK, teamPK int) error {
	return a.client.delete(ctx, "/api/users/" + strconv.Itoa(userPK) + "/teams/" + strconv.Itoa(teamPK))
}

func objectField(result map[string]any, key string) (map[string]any, error) {
	obj, ok := result[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response carries no %q object", key)
	}
	return obj, nil
}
