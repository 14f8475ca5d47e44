package waanauth

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/internal/audit"
	"github.com/waanverse/waanauth/internal/limiters"
	"github.com/waanverse/waanauth/internal/rate"
	"github.com/waanverse/waanauth/internal/secretbox"
	"github.com/waanverse/waanauth/internal/stores"
	"github.com/waanverse/waanauth/jwt"
	"github.com/waanverse/waanauth/mfa"
	"github.com/waanverse/waanauth/password"
	"github.com/waanverse/waanauth/session"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger

	identities IdentityStore
	mfaStore   MFAStore
	resets     ResetTokenStore
	devices    DeviceStore
	sender     dispatch.Sender
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The config is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

func (b *Builder) WithMFAStore(store MFAStore) *Builder {
	b.mfaStore = store
	return b
}

func (b *Builder) WithResetTokenStore(store ResetTokenStore) *Builder {
	b.resets = store
	return b
}

func (b *Builder) WithDeviceStore(store DeviceStore) *Builder {
	b.devices = store
	return b
}

// WithSender sets where codes and notices are delivered. Without one,
// messages are written to the logger.
func (b *Builder) WithSender(sender dispatch.Sender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink enables auditing into sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if cfg.MFA.Enabled && b.mfaStore == nil {
		return nil, errors.New("MFA requires an MFA store")
	}
	if cfg.PasswordReset.Enabled && b.resets == nil {
		return nil, errors.New("PasswordReset requires a reset token store")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sender := b.sender
	if sender == nil {
		sender = dispatch.NewLogSender(logger.Named("dispatch"))
	}

	var auditSink AuditSink = audit.NewZapSink(logger)
	if b.auditSink != nil {
		auditSink = b.auditSink
	}

	retention := cfg.Session.Retention
	if retention == 0 {
		retention = cfg.JWT.RefreshTTL
	}

	limiter := rate.New(b.redis, cfg.Security.RateLimitPrefix)

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		identities:  b.identities,
		mfaStore:    b.mfaStore,
		resets:      b.resets,
		devices:     b.devices,
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix, retention),
		codes:       stores.NewCodeStore(b.redis, cfg.Codes.RedisPrefix),
		challenges:  stores.NewMFAChallengeStore(b.redis, cfg.MFA.RedisPrefix),
		rateLimiter: limiter,
		loginLimiter: limiters.NewLoginLimiter(limiter, limiters.LoginConfig{
			Enabled:               cfg.Login.Throttle,
			MaxAttempts:           cfg.Login.MaxAttempts,
			Window:                cfg.Login.Window,
			MaxIdentifierAttempts: cfg.Login.MaxIdentifierAttempts,
		}),
		signupLimiter: limiters.NewSignupLimiter(limiter, limiters.SignupConfig{
			Enabled:     cfg.Signup.MaxAttemptsPerIP > 0,
			MaxAttempts: cfg.Signup.MaxAttemptsPerIP,
			Window:      cfg.Signup.Window,
		}),
		resetCooldown: limiters.NewCooldownLimiter(limiter, "reset", cfg.PasswordReset.Cooldown),
		resetAttempts: limiters.NewAttemptLimiter(limiter, "reset-confirm",
			cfg.PasswordReset.MaxConfirmAttempts, cfg.PasswordReset.CodeExpiry),
		policy: password.Policy{
			MinLength: cfg.Password.MinLength,
			MaxLength: cfg.Password.MaxPasswordBytes,
			MinScore:  cfg.Password.MinScore,
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		dispatcher: dispatch.NewDispatcher(dispatch.Config{
			BufferSize:  cfg.Dispatch.BufferSize,
			DropIfFull:  cfg.Dispatch.DropIfFull,
			SendTimeout: cfg.Dispatch.SendTimeout,
		}, sender, logger.Named("dispatch")),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, auditSink),
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.hasher = hasher

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.jwt = jm

	if cfg.MFA.Enabled {
		totp, err := mfa.NewTOTP(mfa.Config{
			Issuer:    cfg.MFA.Issuer,
			Digits:    cfg.MFA.Digits,
			Period:    cfg.MFA.Period,
			Skew:      cfg.MFA.Skew,
			Algorithm: cfg.MFA.Algorithm,
			QRSize:    cfg.MFA.QRSize,
		})
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.totp = totp

		box, err := secretbox.New(cfg.MFA.EncryptionKey)
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.box = box
	}

	engine.flows = engine.buildFlowDeps()
	b.built = true

	return engine, nil
}
