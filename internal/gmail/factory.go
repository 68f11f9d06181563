package gmail

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"subtrack/internal/model"
	"subtrack/internal/service/mailsync"
	"subtrack/pkg/circuitbreaker"
	"subtrack/pkg/config"
	"subtrack/pkg/util"
)

// CredentialStore persists refreshed OAuth tokens of a mailbox.
type CredentialStore interface {
	UpdateTokens(ctx context.Context, mailboxID int64, accessToken, refreshToken string, expiry time.Time) error
}

type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

// Factory builds Gmail clients for connected mailboxes. Token refreshes are
// collapsed per mailbox in-process and serialized across processes with the
// optional Locker.
type Factory struct {
	oauth   *oauth2.Config
	creds   CredentialStore
	locker  Locker
	group   singleflight.Group
	cb      *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	svcOpts []option.ClientOption
	logger  *zap.Logger
}

type Option func(*Factory)

func WithLocker(l Locker) Option {
	return func(f *Factory) { f.locker = l }
}

// WithOAuthEndpoint overrides the Google token endpoint.
func WithOAuthEndpoint(e oauth2.Endpoint) Option {
	return func(f *Factory) { f.oauth.Endpoint = e }
}

// WithServiceOptions appends options to every gmail.NewService call.
func WithServiceOptions(opts ...option.ClientOption) Option {
	return func(f *Factory) { f.svcOpts = append(f.svcOpts, opts...) }
}

func NewFactory(cfg config.GmailConfig, creds CredentialStore, l *zap.Logger, opts ...Option) *Factory {
	cfg.Defaults()
	f := &Factory{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		timeout: cfg.CallTimeout,
		logger:  l,
	}
	breakerCfg := circuitbreaker.DefaultConfig("gmail-api")
	breakerCfg.IsSuccessful = isBreakerSuccess
	f.cb = circuitbreaker.New(breakerCfg, l)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewClient returns a client for mb, refreshing its access token first when
// it is missing or expired.
func (f *Factory) NewClient(ctx context.Context, mb model.ConnectedMailbox) (mailsync.MailClient, error) {
	tok, err := f.token(ctx, mb)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}, f.svcOpts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{
		svc:     svc,
		cb:      f.cb,
		limiter: f.limiter,
		timeout: f.timeout,
	}, nil
}

func (f *Factory) token(ctx context.Context, mb model.ConnectedMailbox) (*oauth2.Token, error) {
	current := &oauth2.Token{
		AccessToken:  mb.AccessToken,
		RefreshToken: mb.RefreshToken,
		TokenType:    "Bearer",
	}
	if mb.TokenExpiry != nil {
		current.Expiry = *mb.TokenExpiry
	} else {
		// 过期时间未知时强制刷新
		current.Expiry = time.Now().Add(-time.Minute)
	}
	if current.Valid() {
		return current, nil
	}
	if mb.RefreshToken == "" {
		return nil, fmt.Errorf("mailbox %d has no refresh token: %w", mb.ID, mailsync.ErrMailboxUnauthorized)
	}

	v, err, _ := f.group.Do(strconv.FormatInt(mb.ID, 10), func() (interface{}, error) {
		return f.refresh(ctx, mb, current)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (f *Factory) refresh(ctx context.Context, mb model.ConnectedMailbox, current *oauth2.Token) (*oauth2.Token, error) {
	persist := true
	if f.locker != nil {
		unlock, err := f.locker.Lock(ctx, "mailbox-token:"+strconv.FormatInt(mb.ID, 10))
		switch {
		case errors.Is(err, util.ErrLockNotAcquired):
			// 其他进程正在刷新，本次只使用新 token 不落库
			persist = false
		case err != nil:
			return nil, fmt.Errorf("lock mailbox %d: %w", mb.ID, err)
		default:
			defer unlock()
		}
	}

	tok, err := f.oauth.TokenSource(ctx, current).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("refresh token for mailbox %d: %w", mb.ID, mailsync.ErrMailboxUnauthorized)
		}
		return nil, fmt.Errorf("refresh token for mailbox %d: %w", mb.ID, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = current.RefreshToken
	}

	if persist {
		if err := f.creds.UpdateTokens(ctx, mb.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			return nil, fmt.Errorf("persist tokens for mailbox %d: %w", mb.ID, err)
		}
	}
	f.logger.Info("Mailbox token refreshed",
		zap.Int64("mailbox_id", mb.ID),
		zap.Bool("persisted", persist),
	)
	return tok, nil
}
