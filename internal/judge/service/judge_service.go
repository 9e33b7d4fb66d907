package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"wbuoj/internal/common/cache"
	"wbuoj/internal/common/storage"
	"wbuoj/internal/judge/hub"
	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	"wbuoj/internal/judge/repository"
	"wbuoj/internal/judge/signer"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultLinkTTL          = 10 * time.Minute
	defaultManifestCacheTTL = 10 * time.Minute
	defaultMaxArtifactBytes = 32 << 20
)

// TaskEnqueuer is the queue view the service needs. Implemented by
// queue.TaskQueue.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *model.JudgeTask) error
	Depth(ctx context.Context) (int64, error)
}

// WorkerTable exposes the live connection table for the admin surface.
// Implemented by hub.Hub.
type WorkerTable interface {
	Snapshot() []hub.WorkerInfo
	Count() int
}

// ResultWaiter registers in-process waiters for terminal results.
// Implemented by ingest.Ingestor.
type ResultWaiter interface {
	WaitForFinal(submissionID string) (<-chan model.FinalResult, func())
}

// Credential is one account accepted by the compatibility login endpoint.
// Secret is either a bcrypt hash or, for legacy deployments, the plaintext.
type Credential struct {
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`
}

// Config holds judge service dependencies and settings.
type Config struct {
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Queue       TaskEnqueuer
	Workers     WorkerTable
	Waiter      ResultWaiter
	Cache       cache.Cache
	Storage     storage.ObjectStorage // optional, nil disables artifact upload
	Signer      *signer.Signer

	Credentials      []Credential
	ArtifactBucket   string
	LinkTTL          time.Duration
	ManifestCacheTTL time.Duration
	MaxArtifactBytes int64
}

// JudgeService implements the orchestrator's operations behind the HTTP
// surface: submission intake, the file manifest, signed downloads, artifact
// upload and the admin view.
type JudgeService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	queue       TaskEnqueuer
	workers     WorkerTable
	waiter      ResultWaiter
	cache       cache.Cache
	storage     storage.ObjectStorage
	signer      *signer.Signer

	credentials      []Credential
	artifactBucket   string
	linkTTL          time.Duration
	manifestCacheTTL time.Duration
	maxArtifactBytes int64
}

// NewJudgeService creates a judge service.
func NewJudgeService(cfg Config) (*JudgeService, error) {
	if cfg.Submissions == nil {
		return nil, errors.New("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, errors.New("problem repository is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("task queue is required")
	}
	if cfg.Workers == nil {
		return nil, errors.New("worker table is required")
	}
	if cfg.Waiter == nil {
		return nil, errors.New("result waiter is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("link signer is required")
	}
	if cfg.Storage != nil && cfg.ArtifactBucket == "" {
		return nil, errors.New("artifact bucket is required when storage is set")
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.ManifestCacheTTL <= 0 {
		cfg.ManifestCacheTTL = defaultManifestCacheTTL
	}
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = defaultMaxArtifactBytes
	}
	return &JudgeService{
		submissions:      cfg.Submissions,
		problems:         cfg.Problems,
		queue:            cfg.Queue,
		workers:          cfg.Workers,
		waiter:           cfg.Waiter,
		cache:            cfg.Cache,
		storage:          cfg.Storage,
		signer:           cfg.Signer,
		credentials:      cfg.Credentials,
		artifactBucket:   cfg.ArtifactBucket,
		linkTTL:          cfg.LinkTTL,
		manifestCacheTTL: cfg.ManifestCacheTTL,
		maxArtifactBytes: cfg.MaxArtifactBytes,
	}, nil
}

// Enqueue loads a pending submission, resolves its problem and test data and
// places a judge task at the queue tail.
func (s *JudgeService) Enqueue(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("submission id is required")
	}

	submission, err := s.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return appErr.New(appErr.SubmissionNotFound)
		}
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if submission.Status.Terminal() {
		return appErr.Newf(appErr.InvalidParams, "submission %s is already judged", submissionID)
	}
	if _, ok := protocol.LookupLanguage(submission.Language); !ok {
		return appErr.Newf(appErr.UnknownLanguage, "unknown language key %q", submission.Language)
	}

	problem, err := s.problems.GetByID(ctx, nil, submission.ProblemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return appErr.New(appErr.ProblemNotFound)
		}
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	cases, err := s.problems.GetTestCases(ctx, nil, problem.ID)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if len(cases) == 0 {
		return appErr.Newf(appErr.TestDataNotFound, "problem %d has no test data", problem.ID)
	}

	task := &model.JudgeTask{
		SubmissionID:  submission.ID,
		ProblemID:     problem.ID,
		ProblemCode:   problem.Code,
		UserID:        submission.UserID,
		Language:      submission.Language,
		Source:        submission.Source,
		TimeLimitMS:   problem.TimeLimitMS,
		MemoryLimitKB: problem.MemoryLimitKB,
		Cases:         cases,
		CreatedAt:     time.Now(),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return err
	}

	logger.Info(ctx, "submission enqueued",
		zap.String("submission_id", submission.ID),
		zap.Int64("problem_id", problem.ID),
		zap.String("language", submission.Language),
	)
	return nil
}

// Rejudge discards a submission's previous run and places it back on the
// queue. Unlike Enqueue it accepts submissions that already hold a terminal
// status.
func (s *JudgeService) Rejudge(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("submission id is required")
	}

	if _, err := s.submissions.GetByID(ctx, nil, submissionID); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return appErr.New(appErr.SubmissionNotFound)
		}
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if err := s.submissions.ResetForRejudge(ctx, nil, submissionID); err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}

	logger.Info(ctx, "submission reset for rejudge", zap.String("submission_id", submissionID))
	return s.Enqueue(ctx, submissionID)
}

// WaitForResult blocks until the submission reaches a terminal status or the
// context expires.
func (s *JudgeService) WaitForResult(ctx context.Context, submissionID string) (model.FinalResult, error) {
	ch, cancel := s.waiter.WaitForFinal(submissionID)
	defer cancel()

	// The result may already be in before the waiter was registered.
	submission, err := s.submissions.GetByID(ctx, nil, submissionID)
	if err == nil && submission.Status.Terminal() {
		return model.FinalResult{
			SubmissionID: submissionID,
			Status:       submission.Status,
			TimeMS:       submission.TimeMS,
			MemoryKB:     submission.MemoryKB,
		}, nil
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return model.FinalResult{}, appErr.Wrap(ctx.Err(), appErr.Timeout)
	}
}

// Authenticate checks a login against the configured worker credentials.
// Secrets starting with a bcrypt prefix are compared as hashes, anything
// else in constant time as plaintext.
func (s *JudgeService) Authenticate(username, secret string) error {
	for _, cred := range s.credentials {
		if cred.Username != username {
			continue
		}
		if strings.HasPrefix(cred.Secret, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(cred.Secret), []byte(secret)) == nil {
				return nil
			}
			return appErr.New(appErr.SecretMismatch)
		}
		if subtle.ConstantTimeCompare([]byte(cred.Secret), []byte(secret)) == 1 {
			return nil
		}
		return appErr.New(appErr.SecretMismatch)
	}
	return appErr.New(appErr.InvalidCredentials)
}

// SystemStats is the admin view of queue and worker state.
type SystemStats struct {
	QueueDepth int64            `json:"queue_depth"`
	Workers    []hub.WorkerInfo `json:"workers"`
}

// Stats renders queue depth and the live worker table.
func (s *JudgeService) Stats(ctx context.Context) (*SystemStats, error) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemStats{
		QueueDepth: depth,
		Workers:    s.workers.Snapshot(),
	}, nil
}
