package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/sinova-register/internal/verification"
)

var (
	// ErrSessionRequired is returned when a request carries no form session id
	ErrSessionRequired = errors.New("session id is required")
	// ErrNotVerified is returned when a team is submitted before its payment was verified
	ErrNotVerified = errors.New("payment has not been verified for this session")
	// ErrPaymentRejected is returned when the session's latest verdict is REJECTED
	ErrPaymentRejected = errors.New("payment proof was rejected")
	// ErrRegistryUnavailable is returned when the submission-time registry check cannot run
	ErrRegistryUnavailable = errors.New("registry unavailable")
)

// IDGenerator generates unique IDs for teams
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the registration tunables
type Config struct {
	Fee               int
	Capacity          int
	ExtractionTimeout time.Duration
	SessionTTL        time.Duration
}

// RegisterRequest is a team submission from the registration form
type RegisterRequest struct {
	SessionID string   `json:"session_id"`
	TeamName  string   `json:"team_name"`
	Members   []Member `json:"members"`
}

// TeamStatus is the public view of a registration
type TeamStatus struct {
	ID            string              `json:"id"`
	TeamNumber    int                 `json:"team_number"`
	TeamName      string              `json:"team_name"`
	MemberCount   int                 `json:"member_count"`
	PaymentStatus verification.Status `json:"payment_status"`
	Waitlisted    bool                `json:"waitlisted"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Service handles payment verification and team registration
type Service struct {
	db          DB
	sessions    *sessions
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor verification.TextExtractor, cfg Config) *Service {
	return NewServiceWithDeps(db, extractor, cfg, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor verification.TextExtractor, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.Fee <= 0 {
		cfg.Fee = verification.DefaultFee
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	verifierCfg := verification.Config{Fee: cfg.Fee, ExtractionTimeout: cfg.ExtractionTimeout}

	return &Service{
		db: db,
		sessions: newSessions(cfg.SessionTTL, func() *verification.Verifier {
			return verification.NewVerifier(db, extractor, verifierCfg)
		}),
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// VerifyPayment verifies an uploaded screenshot for a form session. A new
// upload supersedes whatever the session was still verifying.
func (s *Service) VerifyPayment(ctx context.Context, sessionID, teamName string, file verification.File) (verification.Result, error) {
	if sessionID == "" {
		return verification.Result{}, ErrSessionRequired
	}

	sess := s.sessions.acquire(sessionID, s.timeSource.Now())

	sess.uploadMu.Lock()
	attempt := s.sessions.begin(sess)
	outcome, err := sess.verifier.StartReplace(ctx, file, teamName)
	sess.uploadMu.Unlock()
	if err != nil {
		return verification.Result{}, err
	}

	o := <-outcome
	if o.Err != nil {
		return verification.Result{}, o.Err
	}
	result := o.Result
	s.sessions.setResult(sess, attempt, result)

	slog.Info("Payment verified",
		"session_id", sessionID,
		"team_name", teamName,
		"status", result.Status,
		"confidence", result.Confidence,
	)
	return result, nil
}

// VerificationProgress reports the stage and progress of a session's current attempt
func (s *Service) VerificationProgress(sessionID string) (verification.Update, bool, error) {
	if sessionID == "" {
		return verification.Update{}, false, ErrSessionRequired
	}
	sess, ok := s.sessions.lookup(sessionID, s.timeSource.Now())
	if !ok {
		return verification.Update{}, false, fmt.Errorf("%w: unknown session", ErrNotVerified)
	}
	return verification.Update{
		Stage:    sess.verifier.Stage(),
		Progress: sess.verifier.Progress(),
	}, sess.verifier.Busy(), nil
}

// Register submits a team using the verdict of its session's latest upload.
// The registry is re-checked fail-closed right before the commit.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Team, error) {
	if req.SessionID == "" {
		return nil, ErrSessionRequired
	}

	team := &Team{
		TeamName: req.TeamName,
		Members:  append([]Member(nil), req.Members...),
	}
	normalizeTeam(team)
	if err := validateTeam(team); err != nil {
		return nil, err
	}

	sess, ok := s.sessions.lookup(req.SessionID, s.timeSource.Now())
	if !ok || sess.verifier.Busy() {
		return nil, ErrNotVerified
	}
	result, ok := s.sessions.latestResult(sess)
	if !ok {
		return nil, ErrNotVerified
	}
	if !result.Accepted() {
		return nil, fmt.Errorf("%w: %v", ErrPaymentRejected, result.Recommendations)
	}

	logger := slog.With("session_id", req.SessionID, "team_name", team.TeamName, "image_hash", result.ImageHash)

	if err := s.checkRegistry(ctx, result); err != nil {
		logger.Warn("Registration blocked by registry check", "error", err)
		return nil, err
	}

	team.ID = s.idGenerator.Generate()
	team.TransactionID = result.TransactionID()
	team.PaymentHash = result.ImageHash
	team.PaymentStatus = result.Status
	team.Confidence = result.Confidence
	team.CreatedAt = s.timeSource.Now()

	if err := s.db.RegisterTeam(ctx, team, s.cfg.Capacity); err != nil {
		if errors.Is(err, ErrDuplicatePayment) || errors.Is(err, ErrDuplicateTransaction) {
			logger.Warn("Duplicate payment at commit", "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("saving team: %w", err)
	}
	s.sessions.release(req.SessionID)

	logger.Info("Team registered",
		"team_id", team.ID,
		"team_number", team.TeamNumber,
		"waitlisted", team.Waitlisted,
		"payment_status", team.PaymentStatus,
	)
	return team, nil
}

// checkRegistry is the authoritative duplicate check. Unlike the lookup during
// verification, a store error here blocks the submission.
func (s *Service) checkRegistry(ctx context.Context, result verification.Result) error {
	if txn := result.TransactionID(); txn != "" {
		exists, err := s.db.TransactionIDExists(ctx, txn)
		if err != nil {
			return fmt.Errorf("%w: checking transaction id: %v", ErrRegistryUnavailable, err)
		}
		if exists {
			return ErrDuplicateTransaction
		}
	}

	exists, err := s.db.PaymentHashExists(ctx, result.ImageHash)
	if err != nil {
		return fmt.Errorf("%w: checking payment hash: %v", ErrRegistryUnavailable, err)
	}
	if exists {
		return ErrDuplicatePayment
	}
	return nil
}

// GetTeam returns the public status of a registration
func (s *Service) GetTeam(ctx context.Context, id string) (*TeamStatus, error) {
	team, err := s.db.GetTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return &TeamStatus{
		ID:            team.ID,
		TeamNumber:    team.TeamNumber,
		TeamName:      team.TeamName,
		MemberCount:   len(team.Members),
		PaymentStatus: team.PaymentStatus,
		Waitlisted:    team.Waitlisted,
		CreatedAt:     team.CreatedAt,
	}, nil
}

// ListTeams returns every registration with the admin summary
func (s *Service) ListTeams(ctx context.Context) ([]*Team, Summary, error) {
	teams, err := s.db.ListTeams(ctx)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("listing teams: %w", err)
	}
	return teams, summarize(teams, s.cfg.Fee), nil
}

// Slots reports remaining capacity
func (s *Service) Slots(ctx context.Context) (Slots, error) {
	confirmed, err := s.db.CountConfirmed(ctx)
	if err != nil {
		return Slots{}, fmt.Errorf("counting confirmed teams: %w", err)
	}
	remaining := s.cfg.Capacity - confirmed
	if remaining < 0 {
		remaining = 0
	}
	return Slots{
		Capacity:     s.cfg.Capacity,
		Confirmed:    confirmed,
		Remaining:    remaining,
		WaitlistOnly: remaining == 0,
	}, nil
}

// Health checks the team store
func (s *Service) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
}
