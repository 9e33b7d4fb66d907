package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// StoreArtifact accepts a judge-produced artifact for a submission, such as
// captured program output, compresses it and writes it to object storage
// under artifacts/{submissionID}/{name}.zst.
func (s *JudgeService) StoreArtifact(ctx context.Context, submissionID, name string, reader io.Reader) error {
	if s.storage == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("artifact storage is not configured")
	}
	if submissionID == "" || name == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("submission id and file name are required")
	}

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return appErr.Wrap(err, appErr.StorageError)
	}

	// Read one byte past the limit to tell "exactly at limit" from "over".
	written, err := io.Copy(encoder, io.LimitReader(reader, s.maxArtifactBytes+1))
	if err != nil {
		encoder.Close()
		return appErr.Wrap(err, appErr.StorageError)
	}
	if err := encoder.Close(); err != nil {
		return appErr.Wrap(err, appErr.StorageError)
	}
	if written > s.maxArtifactBytes {
		return appErr.Newf(appErr.ValidationFailed, "artifact exceeds %d bytes", s.maxArtifactBytes)
	}

	key := fmt.Sprintf("artifacts/%s/%s.zst", submissionID, name)
	if err := s.storage.PutObject(ctx, s.artifactBucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/zstd"); err != nil {
		return appErr.Wrap(err, appErr.StorageError)
	}

	logger.Info(ctx, "artifact stored",
		zap.String("submission_id", submissionID),
		zap.String("object_key", key),
		zap.Int64("raw_bytes", written),
		zap.Int("stored_bytes", buf.Len()),
	)
	return nil
}
