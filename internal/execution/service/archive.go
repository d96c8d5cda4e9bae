package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"arenaoj/internal/common/storage"
	"arenaoj/internal/execution/engine"
	appErr "arenaoj/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// ResultArchiver stores the raw engine results for a submission as a
// zstd-compressed JSON object, for offline debugging and rejudging.
type ResultArchiver struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewResultArchiver creates a result archiver.
func NewResultArchiver(objectStorage storage.ObjectStorage, bucket string) (*ResultArchiver, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &ResultArchiver{
		storage: objectStorage,
		bucket:  bucket,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Archive compresses and uploads the raw results for one submission.
func (a *ResultArchiver) Archive(ctx context.Context, submissionID string, results []engine.Result) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "encode engine results failed")
	}
	compressed := a.encoder.EncodeAll(payload, nil)
	key := archiveKey(submissionID)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), "application/zstd"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload engine results archive failed")
	}
	return nil
}

// Load fetches and decompresses a previously archived result set.
func (a *ResultArchiver) Load(ctx context.Context, submissionID string) ([]engine.Result, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	reader, err := a.storage.GetObject(ctx, a.bucket, archiveKey(submissionID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "fetch engine results archive failed")
	}
	defer reader.Close()

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read engine results archive failed")
	}
	payload, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "decompress engine results archive failed")
	}
	var results []engine.Result
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "decode engine results archive failed")
	}
	return results, nil
}

func archiveKey(submissionID string) string {
	return fmt.Sprintf("submissions/%s/engine-results.json.zst", submissionID)
}
