package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectExists is returned by UploadFile when the destination object is
// already present and overwriting was not requested.
var ErrObjectExists = errors.New("object already exists")

const gcsScheme = "gs://"

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// IsGCSURI reports whether path names a Cloud Storage object.
func IsGCSURI(path string) bool {
	return strings.HasPrefix(path, gcsScheme)
}

// ParseGCSURI splits gs://bucket/object into its bucket and object names.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// URI %q must name a bucket and an object", uri)
	}
	return bucket, object, nil
}

// GCSURI formats a bucket and object as gs://bucket/object.
func GCSURI(bucket, object string) string {
	return gcsScheme + bucket + "/" + object
}

// DownloadFile streams an object to a local file.
func DownloadFile(ctx context.Context, bucket *storage.BucketHandle, object, destPath string) error {
	gcsReader, err := bucket.Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", object, err)
	}
	defer gcsReader.Close()

	return writeLocalFile(gcsReader, destPath)
}

func writeLocalFile(r io.Reader, destPath string) error {
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	if _, err := io.Copy(localFile, r); err != nil {
		localFile.Close()
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	if err := localFile.Close(); err != nil {
		return fmt.Errorf("failed to close local file at %s: %w", destPath, err)
	}
	return nil
}

// UploadFile copies a local file to an object, retrying with exponential
// backoff. Unless overwrite is set the write only succeeds if the object
// does not exist yet; a lost precondition yields ErrObjectExists and is not
// retried.
func UploadFile(ctx context.Context, bucket *storage.BucketHandle, localPath, destObject string, overwrite bool) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()

			obj := bucket.Object(destObject)
			if !overwrite {
				obj = obj.If(storage.Conditions{DoesNotExist: true})
			}
			gcsWriter := obj.NewWriter(writeCtx)
			gcsWriter.ContentType = "application/pdf"

			if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
				_ = gcsWriter.Close()
				return classifyWriteError("io.Copy to GCS failed", err)
			}
			if err := gcsWriter.Close(); err != nil {
				return classifyWriteError("failed to close GCS writer (finalize upload)", err)
			}
			return nil
		}()

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrObjectExists) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", destObject)
			return err
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", destObject, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", destObject, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}

func classifyWriteError(message string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 412 {
		return fmt.Errorf("%s: %w", message, ErrObjectExists)
	}
	return fmt.Errorf("%s: %w", message, err)
}
