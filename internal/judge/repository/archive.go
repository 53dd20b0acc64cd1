package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"codearena/internal/common/storage"
	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

const archiveContentType = "application/zstd"

// ArchiveStore writes final verdicts as zstd-compressed JSON objects.
type ArchiveStore struct {
	storage storage.ObjectStorage
	bucket  string
}

func NewArchiveStore(s storage.ObjectStorage, bucket string) *ArchiveStore {
	return &ArchiveStore{storage: s, bucket: bucket}
}

// ObjectKey returns submissions/<yyyy>/<mm>/<id>.json.zst keyed on submit time.
func ObjectKey(sub *model.Submission) string {
	t := sub.SubmittedAt.UTC()
	return fmt.Sprintf("submissions/%04d/%02d/%s.json.zst", t.Year(), int(t.Month()), sub.ID)
}

func (a *ArchiveStore) Put(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal archive failed: %w", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("create zstd writer failed: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compress archive failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress archive failed: %w", err)
	}
	if err := a.storage.PutObject(ctx, a.bucket, ObjectKey(sub), &buf, int64(buf.Len()), archiveContentType); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "upload archive failed")
	}
	return nil
}

// Get reads an archived verdict back. key is the value ObjectKey produced.
func (a *ArchiveStore) Get(ctx context.Context, key string) (*model.Submission, error) {
	rc, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("archive_key", key)
		}
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "download archive failed")
	}
	defer rc.Close()
	dec, err := zstd.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader failed: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress archive failed: %w", err)
	}
	var sub model.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode archive failed: %w", err)
	}
	return &sub, nil
}
