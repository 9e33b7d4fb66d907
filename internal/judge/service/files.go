package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/repository"
	"wbuoj/internal/judge/signer"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const manifestCacheKeyPrefix = "judge:files:problem:"

// ManifestEntry is one downloadable test file with its signed link.
type ManifestEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size"`
	Checksum  string `json:"checksum"`
	URL       string `json:"url"`
}

func manifestCacheKey(problemID int64) string {
	return fmt.Sprintf("%s%d", manifestCacheKeyPrefix, problemID)
}

// FileManifest lists a problem's test files with fresh signed links. Workers
// address problems by their numeric code, so the code is resolved to the
// internal id first. The file metadata is cached; links are signed per call
// so their expiry always starts now.
func (s *JudgeService) FileManifest(ctx context.Context, problemCode int64, baseURL string) ([]ManifestEntry, error) {
	if problemCode <= 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("problem number is required")
	}

	problem, err := s.problems.GetByCode(ctx, nil, problemCode)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.New(appErr.ProblemNotFound)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}

	metas, err := s.manifestMetas(ctx, problem.ID)
	if err != nil {
		return nil, err
	}

	entries := make([]ManifestEntry, 0, len(metas))
	for _, meta := range metas {
		target := fmt.Sprintf("testdata/%d/%s", problem.ID, meta.Name)
		entries = append(entries, ManifestEntry{
			Name:      meta.Name,
			SizeBytes: meta.SizeBytes,
			Checksum:  meta.Checksum,
			URL:       s.signer.SignedURL(baseURL, target, meta.Name, s.linkTTL),
		})
	}
	return entries, nil
}

// manifestMetas loads the cached file metadata for a problem, building and
// caching it from the test data on a miss.
func (s *JudgeService) manifestMetas(ctx context.Context, problemID int64) ([]model.FileMeta, error) {
	key := manifestCacheKey(problemID)
	if cached, err := s.cache.Get(ctx, key); err != nil {
		logger.Warn(ctx, "manifest cache read failed",
			zap.Int64("problem_id", problemID), zap.Error(err))
	} else if cached != "" {
		var metas []model.FileMeta
		if err := json.Unmarshal([]byte(cached), &metas); err == nil {
			return metas, nil
		}
		// Unreadable cache entry, rebuild below.
		_ = s.cache.Del(ctx, key)
	}

	cases, err := s.problems.GetTestCases(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.New(appErr.ProblemNotFound)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	if len(cases) == 0 {
		return nil, appErr.Newf(appErr.TestDataNotFound, "problem %d has no test data", problemID)
	}

	metas := make([]model.FileMeta, 0, 2*len(cases))
	for i, tc := range cases {
		metas = append(metas,
			caseFileMeta(fmt.Sprintf("%d.in", i+1), tc.Input),
			caseFileMeta(fmt.Sprintf("%d.out", i+1), tc.Output),
		)
	}

	payload, err := json.Marshal(metas)
	if err == nil {
		if err := s.cache.Set(ctx, key, string(payload), s.manifestCacheTTL); err != nil {
			logger.Warn(ctx, "manifest cache write failed",
				zap.Int64("problem_id", problemID), zap.Error(err))
		}
	}
	return metas, nil
}

func caseFileMeta(name, content string) model.FileMeta {
	sum := sha256.Sum256([]byte(content))
	return model.FileMeta{
		Name:      name,
		SizeBytes: int64(len(content)),
		Checksum:  hex.EncodeToString(sum[:]),
	}
}

// ClearFileCache drops the cached manifest for a problem, used after its
// test data changes.
func (s *JudgeService) ClearFileCache(ctx context.Context, problemID int64) error {
	if problemID <= 0 {
		return appErr.New(appErr.InvalidParams).WithMessage("problem id is required")
	}
	return s.cache.Del(ctx, manifestCacheKey(problemID))
}

// SubmissionLink signs a download link for a submission's source code.
func (s *JudgeService) SubmissionLink(ctx context.Context, submissionID, baseURL string) (string, error) {
	if submissionID == "" {
		return "", appErr.New(appErr.InvalidParams).WithMessage("submission id is required")
	}
	if _, err := s.submissions.GetByID(ctx, nil, submissionID); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return "", appErr.New(appErr.SubmissionNotFound)
		}
		return "", appErr.Wrap(err, appErr.DatabaseError)
	}
	target := "submission/" + submissionID
	return s.signer.SignedURL(baseURL, target, submissionID+".code", s.linkTTL), nil
}

// OpenTarget resolves a verified signed-link target to its content. Every
// failure maps to the same not-found error so a signed but dangling link
// cannot probe for resource existence.
func (s *JudgeService) OpenTarget(ctx context.Context, target *signer.Target) (string, []byte, error) {
	switch target.Kind {
	case signer.TargetSubmission:
		submission, err := s.submissions.GetByID(ctx, nil, target.SubmissionID)
		if err != nil {
			return "", nil, appErr.New(appErr.FileNotFound)
		}
		return target.SubmissionID + ".code", []byte(submission.Source), nil

	case signer.TargetTestData:
		cases, err := s.problems.GetTestCases(ctx, nil, target.ProblemID)
		if err != nil || target.CaseNumber > len(cases) {
			return "", nil, appErr.New(appErr.FileNotFound)
		}
		tc := cases[target.CaseNumber-1]
		if target.WantInput {
			return fmt.Sprintf("%d.in", target.CaseNumber), []byte(tc.Input), nil
		}
		return fmt.Sprintf("%d.out", target.CaseNumber), []byte(tc.Output), nil
	}
	return "", nil, appErr.New(appErr.FileNotFound)
}
