// ABOUTME: GCS loader reading source files from a bucket for analysis
// ABOUTME: Supports ADC authentication, emulator endpoints, and prefix-scoped listing

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// DefaultMaxObjects bounds how many objects one listing loads.
const DefaultMaxObjects = 200

// Config holds GCS loader configuration.
type Config struct {
	// Bucket is the GCS bucket name.
	Bucket string

	// Prefix scopes listing to objects under it, e.g. "repo/src/".
	Prefix string

	// CredentialsFile is the path to service account JSON (optional).
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// Endpoint overrides the storage API endpoint, e.g. for an emulator.
	// Requests to a custom endpoint are sent without authentication.
	Endpoint string

	// MaxObjectBytes skips larger objects. Zero means unbounded.
	MaxObjectBytes int64

	// MaxObjects bounds one listing. Zero uses DefaultMaxObjects.
	MaxObjects int

	// Client is used instead of building one. The loader does not close it.
	Client *storage.Client
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Prefix != "" && !ValidatePrefix(c.Prefix) {
		return fmt.Errorf("invalid prefix %q", c.Prefix)
	}
	return nil
}

// Skipped names an object that was listed but not loaded.
type Skipped struct {
	Name   string
	Reason string
}

// Loader reads source files from a bucket.
type Loader struct {
	client     *storage.Client
	ownsClient bool
	bucket     string
	prefix     string
	maxBytes   int64
	maxObjects int
}

// NewLoader creates a new GCS loader.
func NewLoader(ctx context.Context, cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = DefaultMaxObjects
	}

	l := &Loader{
		client:     cfg.Client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		maxBytes:   cfg.MaxObjectBytes,
		maxObjects: cfg.MaxObjects,
	}
	if l.client != nil {
		return l, nil
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	l.client = client
	l.ownsClient = true
	return l, nil
}

// Close closes the storage client if the loader created it.
func (l *Loader) Close() error {
	if l.ownsClient {
		return l.client.Close()
	}
	return nil
}

// Load reads one object as a file input named after the object.
func (l *Loader) Load(ctx context.Context, object string) (types.FileInput, error) {
	obj := l.client.Bucket(l.bucket).Object(object)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return types.FileInput{}, fmt.Errorf("opening object %s/%s: %w", l.bucket, object, err)
	}
	defer reader.Close()

	if l.maxBytes > 0 && reader.Attrs.Size > l.maxBytes {
		return types.FileInput{}, fmt.Errorf("object %s/%s is %d bytes, limit is %d", l.bucket, object, reader.Attrs.Size, l.maxBytes)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return types.FileInput{}, fmt.Errorf("reading object %s/%s: %w", l.bucket, object, err)
	}
	return types.FileInput{Name: object, Content: string(data)}, nil
}

// LoadURI reads the object a gs:// URI names. The URI must name the
// loader's bucket.
func (l *Loader) LoadURI(ctx context.Context, uri string) (types.FileInput, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return types.FileInput{}, fmt.Errorf("parsing URI: %w", err)
	}

	// Verify bucket matches.
	if bucket != l.bucket {
		return types.FileInput{}, fmt.Errorf("bucket mismatch: URI has %q, loader configured for %q", bucket, l.bucket)
	}
	if object == "" {
		return types.FileInput{}, errors.New("URI names no object")
	}

	return l.Load(ctx, object)
}

// LoadAll reads every object under the prefix in name order. Directory
// placeholders and objects over MaxObjectBytes are skipped and reported.
func (l *Loader) LoadAll(ctx context.Context) ([]types.FileInput, []Skipped, error) {
	it := l.client.Bucket(l.bucket).Objects(ctx, &storage.Query{Prefix: l.prefix})

	var (
		files   []types.FileInput
		skipped []Skipped
	)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("listing %s/%s: %w", l.bucket, l.prefix, err)
		}

		switch {
		case strings.HasSuffix(attrs.Name, "/"):
			continue
		case l.maxBytes > 0 && attrs.Size > l.maxBytes:
			skipped = append(skipped, Skipped{Name: attrs.Name, Reason: fmt.Sprintf("%d bytes exceeds limit %d", attrs.Size, l.maxBytes)})
			continue
		case len(files) >= l.maxObjects:
			skipped = append(skipped, Skipped{Name: attrs.Name, Reason: fmt.Sprintf("object limit %d reached", l.maxObjects)})
			continue
		}

		f, err := l.Load(ctx, attrs.Name)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, f)
	}
	return files, skipped, nil
}

// ParseGCSURI parses a gs:// URI into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", errors.New("empty URI")
	}

	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: must start with gs://")
	}

	// Remove the gs:// prefix.
	rest := strings.TrimPrefix(uri, "gs://")

	// Split into bucket and object.
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", errors.New("invalid GCS URI: missing bucket")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}

	return bucket, object, nil
}

// ValidatePrefix rejects prefixes with traversal sequences or a leading slash.
func ValidatePrefix(prefix string) bool {
	if strings.HasPrefix(prefix, "/") {
		return false
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	return path.Clean(trimmed) == trimmed && !strings.HasPrefix(trimmed, "..")
}
