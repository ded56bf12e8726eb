package findata

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"

	"github.com/weichinwang/marketagent/model"
)

// Source fetches the financial metrics CSV from wherever it lives.
type Source interface {
	// Fetch downloads and decodes the dataset.
	Fetch(ctx context.Context) (*Dataset, error)

	// Location describes the source for diagnostics.
	Location() string
}

// LocalSource reads the dataset from a file on disk.
type LocalSource struct {
	Path string
}

// Fetch decodes the CSV at the configured path.
func (s LocalSource) Fetch(ctx context.Context) (*Dataset, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", s.Path, err)
	}
	defer f.Close()

	ds, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %w", s.Path, err)
	}
	return ds, nil
}

// Location returns the file path.
func (s LocalSource) Location() string { return s.Path }

// BucketSource streams the dataset out of a Cloud Storage bucket without
// staging it on local disk.
type BucketSource struct {
	Bucket string
	Object string
}

// Fetch opens a reader on the bucket object and decodes the CSV directly.
func (s BucketSource) Fetch(ctx context.Context) (*Dataset, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(s.Bucket).Object(s.Object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.Bucket, s.Object, err)
	}
	defer rc.Close()

	ds, err := Read(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode gs://%s/%s: %w", s.Bucket, s.Object, err)
	}
	return ds, nil
}

// Location returns the gs:// URL of the object.
func (s BucketSource) Location() string {
	return fmt.Sprintf("gs://%s/%s", s.Bucket, s.Object)
}

// Selector picks the dataset source for a user role. The Global role reads
// the shared dataset; regional roles read their own object in the regional
// bucket. A non-empty LocalPath overrides bucket fetching entirely.
type Selector struct {
	LocalPath      string
	GlobalBucket   string
	GlobalObject   string
	RegionalBucket string
}

// For returns the source serving the given role.
func (s Selector) For(role model.Role) Source {
	if s.LocalPath != "" {
		return LocalSource{Path: s.LocalPath}
	}
	if role == model.RoleGlobal {
		return BucketSource{Bucket: s.GlobalBucket, Object: s.GlobalObject}
	}
	return BucketSource{Bucket: s.RegionalBucket, Object: fmt.Sprintf("%s_Fin_data.csv", role)}
}
