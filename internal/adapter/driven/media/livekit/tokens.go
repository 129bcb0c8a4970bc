package livekit

import (
	"time"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/livekit/protocol/auth"
)

const tokenValidity = 6 * time.Hour

// TokenService mints signed admission tokens for the external media
// relay. The call key doubles as the relay room name.
type TokenService struct {
	apiKey    string
	apiSecret string
	url       string
}

func NewTokenService(apiKey, apiSecret, url string) *TokenService {
	return &TokenService{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		url:       url,
	}
}

func (s *TokenService) Mint(key domain.CallKey, user domain.Identity) (string, error) {
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     key.String(),
	}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	at.SetVideoGrant(grant).
		SetIdentity(user.ID.String()).
		SetName(user.Username).
		SetValidFor(tokenValidity)

	return at.ToJWT()
}

func (s *TokenService) ServerURL() string {
	return s.url
}
