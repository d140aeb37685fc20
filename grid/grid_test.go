package grid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"presencecore/collab"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct{ url string }

func (r staticResolver) ResolveRegionURL(handle collab.RegionHandle) (string, bool) {
	return r.url, true
}

func TestMintAndVerifyNeighbourTokenRoundTrip(t *testing.T) {
	svc := NewService(staticResolver{}, []byte("secret"))

	token, err := svc.MintNeighbourToken("avatar-1", 42)
	require.NoError(t, err)

	claims, err := svc.VerifyNeighbourToken(token)
	require.NoError(t, err)
	assert.Equal(t, collab.PresenceID("avatar-1"), claims.PresenceID)
	assert.Equal(t, collab.RegionHandle(42), claims.Region)
}

func TestVerifyNeighbourTokenRejectsWrongSecret(t *testing.T) {
	svc := NewService(staticResolver{}, []byte("secret"))
	token, err := svc.MintNeighbourToken("avatar-1", 42)
	require.NoError(t, err)

	other := NewService(staticResolver{}, []byte("different"))
	_, err = other.VerifyNeighbourToken(token)
	require.Error(t, err)
}

func TestCloseChildAgentPostsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(staticResolver{url: server.URL}, []byte("secret"))
	err := svc.CloseChildAgent(context.Background(), 1, "avatar-1", "test-bearer")
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-bearer", gotAuth)
}

func TestCloseChildAgentReturnsErrorOnUnknownRegion(t *testing.T) {
	svc := NewService(unknownResolver{}, []byte("secret"))
	err := svc.CloseChildAgent(context.Background(), 1, "avatar-1", "tok")
	require.Error(t, err)
}

type unknownResolver struct{}

func (unknownResolver) ResolveRegionURL(handle collab.RegionHandle) (string, bool) { return "", false }
