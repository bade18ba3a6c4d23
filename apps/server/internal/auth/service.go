package auth

import (
	"context"
	"fmt"
)

type Role string

const (
	RolePlayer  Role = "player"
	RoleManager Role = "manager"
)

// Principal is who a session token speaks for. Managers have no PlayerID unless they
// also sit at the table.
type Principal struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id,omitempty"`
	Role     Role   `json:"role"`
}

func (p Principal) IsManager() bool { return p.Role == RoleManager }

func (p Principal) validate() error {
	if p.GameID == "" {
		return fmt.Errorf("principal without game")
	}
	switch p.Role {
	case RolePlayer:
		if p.PlayerID == "" {
			return fmt.Errorf("player principal without player id")
		}
	case RoleManager:
	default:
		return fmt.Errorf("unknown role %q", p.Role)
	}
	return nil
}

// Service is the session contract consumed by the HTTP handlers.
type Service interface {
	Issue(ctx context.Context, p Principal) (token string, err error)
	Resolve(ctx context.Context, token string) (Principal, bool)
	Revoke(ctx context.Context, token string)
	Close() error
}
