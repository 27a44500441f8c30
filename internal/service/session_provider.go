package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transfit/internal/domain"
	"transfit/internal/models"

	"github.com/rs/zerolog"
)

// SessionProvider resolves the remote write credential: the session stored by the app
// in the auth slot first, then the static session from configuration.
type SessionProvider struct {
	kv     domain.KVStore
	static *models.AuthSession
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSessionProvider(kv domain.KVStore, static *models.AuthSession, logger *zerolog.Logger) *SessionProvider {
	if static != nil && (static.UserID == "" || static.AccessToken == "") {
		static = nil
	}
	return &SessionProvider{
		kv:     kv,
		static: static,
		logger: logger,
		now:    time.Now,
	}
}

// Session returns the active session or nil when the user is signed out.
func (p *SessionProvider) Session(ctx context.Context) (*models.AuthSession, error) {
	if p.kv != nil {
		stored, err := p.stored(ctx)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return stored, nil
		}
	}
	if p.static != nil && !p.static.Expired(p.now()) {
		s := *p.static
		return &s, nil
	}
	return nil, nil
}

// Store persists the session so later passes can use it.
func (p *SessionProvider) Store(ctx context.Context, session *models.AuthSession) error {
	if p.kv == nil {
		return fmt.Errorf("session store is not configured")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode auth session: %w", err)
	}
	return p.kv.SetValue(ctx, models.AuthSessionSlot, data)
}

func (p *SessionProvider) stored(ctx context.Context) (*models.AuthSession, error) {
	data, err := p.kv.GetValue(ctx, models.AuthSessionSlot)
	if err != nil {
		return nil, fmt.Errorf("read auth session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var session models.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		p.logger.Warn().Err(err).Msg("stored auth session is unreadable, ignoring")
		return nil, nil
	}
	if session.UserID == "" || session.AccessToken == "" || session.Expired(p.now()) {
		return nil, nil
	}
	return &session, nil
}
