// Package grid implements collab.GridService over HTTP: closing a
// child-agent connection on a neighbouring region, authenticated with a
// short-lived bearer token this package mints and verifies itself,
// mirroring the JWT issuance pattern in the teacher's auth.Manager.
package grid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"presencecore/collab"
	"presencecore/logging"
)

// NeighbourClaims is the claim set a region presents to a neighbour when
// closing a child agent, embedding the standard registered claims.
type NeighbourClaims struct {
	PresenceID collab.PresenceID   `json:"presence_id"`
	Region     collab.RegionHandle `json:"region"`
	jwt.RegisteredClaims
}

// RegionResolver maps a RegionHandle to the HTTP base URL of its grid
// endpoint; the host process owns the actual region directory.
type RegionResolver interface {
	ResolveRegionURL(handle collab.RegionHandle) (string, bool)
}

// Service is the HTTP-backed GridService implementation.
type Service struct {
	client    *http.Client
	resolver  RegionResolver
	jwtSecret []byte
	issuer    string
}

// NewService constructs a grid.Service signing its own neighbour tokens
// with jwtSecret, mirroring auth.Manager's NewManager constructor shape.
func NewService(resolver RegionResolver, jwtSecret []byte) *Service {
	return &Service{
		client:    &http.Client{Timeout: 5 * time.Second},
		resolver:  resolver,
		jwtSecret: jwtSecret,
		issuer:    "presencecore-grid",
	}
}

// MintNeighbourToken signs a short-lived bearer token authorizing a
// close-child-agent request for presence on the given region.
func (s *Service) MintNeighbourToken(presence collab.PresenceID, region collab.RegionHandle) (string, error) {
	claims := &NeighbourClaims{
		PresenceID: presence,
		Region:     region,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Subject:   string(presence),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyNeighbourToken parses and validates a token minted by
// MintNeighbourToken, used by the receiving region's HTTP handler.
func (s *Service) VerifyNeighbourToken(tokenString string) (*NeighbourClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &NeighbourClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid neighbour token: %w", err)
	}
	claims, ok := parsed.Claims.(*NeighbourClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid neighbour token claims")
	}
	return claims, nil
}

type closeChildAgentRequest struct {
	PresenceID collab.PresenceID `json:"presence_id"`
}

// CloseChildAgent implements collab.GridService by POSTing to the
// neighbour region's close-child-agent endpoint with the bearer token
// as Authorization header.
func (s *Service) CloseChildAgent(ctx context.Context, region collab.RegionHandle, presence collab.PresenceID, bearerToken string) error {
	base, ok := s.resolver.ResolveRegionURL(region)
	if !ok {
		return fmt.Errorf("grid: unknown region handle %d", region)
	}

	body, err := json.Marshal(closeChildAgentRequest{PresenceID: presence})
	if err != nil {
		return fmt.Errorf("grid: marshal close request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/grid/child-agents/close", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("grid: build close request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := s.client.Do(req)
	if err != nil {
		logging.Warn("grid close-child-agent request failed", map[string]interface{}{
			"region":   region,
			"presence": presence,
			"error":    err.Error(),
		})
		return fmt.Errorf("grid: close-child-agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("grid: close-child-agent returned status %d", resp.StatusCode)
	}
	return nil
}

var _ collab.GridService = (*Service)(nil)
