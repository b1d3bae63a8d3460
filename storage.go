package deface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// IsGoogleStorage reports whether path is a gs:// URL.
func IsGoogleStorage(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

func splitGoogleStoragePath(path string) (bucket, object string, err error) {
	// Detect the bucket and the path to the actual file
	pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] == "" {
		return "", "", fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
	}
	return pathParts[0], pathParts[1], nil
}

func objectHandle(path string, client *storage.Client) (*storage.ObjectHandle, error) {
	if client == nil {
		return nil, fmt.Errorf("%s: a google storage client is required for gs:// paths", path)
	}
	bucketName, pathName, err := splitGoogleStoragePath(path)
	if err != nil {
		return nil, err
	}

	return client.Bucket(bucketName).Object(pathName), nil
}

// Exists reports whether path names an existing local file or Google Storage
// object.
func Exists(ctx context.Context, path string, client *storage.Client) (bool, error) {
	if IsGoogleStorage(path) {
		handle, err := objectHandle(path, client)
		if err != nil {
			return false, pfx.Err(err)
		}

		if _, err := handle.Attrs(ctx); errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		} else if err != nil {
			return false, pfx.Err(fmt.Errorf("%s: %w", path, err))
		}
		return true, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, pfx.Err(err)
	}
	return true, nil
}

// FetchFromGoogleStorage copies a gs:// object to a local file. FLIRT reads
// from a filename, so remote inputs have to be staged before registration.
func FetchFromGoogleStorage(ctx context.Context, src, dst string, client *storage.Client) error {
	handle, err := objectHandle(src, client)
	if err != nil {
		return pfx.Err(err)
	}

	rc, err := handle.NewReader(ctx)
	if err != nil {
		return pfx.Err(fmt.Errorf("%s: %w", src, err))
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return pfx.Err(err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return pfx.Err(err)
	}

	return pfx.Err(f.Close())
}

// UploadToGoogleStorage copies a local file to a gs:// object, refusing to
// replace an object that already exists.
func UploadToGoogleStorage(ctx context.Context, src, dst string, client *storage.Client) error {
	handle, err := objectHandle(dst, client)
	if err != nil {
		return pfx.Err(err)
	}

	f, err := os.Open(src)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	w := handle.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return pfx.Err(err)
	}

	if err := w.Close(); err != nil {
		return pfx.Err(fmt.Errorf("%s: %w", dst, err))
	}

	return nil
}
