package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// Config represents the settings required to talk to S3 or an S3-compatible API.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PublicURL       string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	PublicACL       bool
}

// NewS3Store wires an S3 client if the configuration is complete, otherwise a disabled store.
func NewS3Store(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return Disabled(), nil
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws sdk config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.ForcePathStyle
		}
	})

	// Fallback so S3-compatible storage without PublicURL still works for reads.
	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" && cfg.Endpoint != "" && cfg.ForcePathStyle {
		publicURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
	}

	return newS3Store(client, cfg, publicURL), nil
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	s3.ListObjectsV2APIClient
}

type s3Store struct {
	client    s3API
	bucket    string
	region    string
	baseURL   string
	prefix    string
	publicACL bool
}

func newS3Store(client s3API, cfg Config, publicURL string) *s3Store {
	return &s3Store{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		baseURL:   publicURL,
		prefix:    strings.Trim(cfg.KeyPrefix, "/"),
		publicACL: cfg.PublicACL,
	}
}

// Put stores the blob under the prefixed key and returns its public URL.
func (s *s3Store) Put(ctx context.Context, input PutInput) (Object, error) {
	if input.Body == nil {
		return Object{}, errors.New("put body is required")
	}
	rel, ok := cleanPath(input.Path)
	if !ok {
		rel = uuid.NewString()
	}
	key := s.key(rel)

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   input.Body,
	}
	if input.ContentType != "" {
		putInput.ContentType = aws.String(input.ContentType)
	}
	if input.Size > 0 {
		putInput.ContentLength = aws.Int64(input.Size)
	}
	if input.Public && s.publicACL {
		putInput.ACL = types.ObjectCannedACLPublicRead
	}

	if _, err := s.client.PutObject(ctx, putInput); err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}

	return Object{
		Path:       rel,
		URL:        s.objectURL(key),
		UploadedAt: timeNow(),
		Size:       input.Size,
	}, nil
}

// List returns every object below prefix, paging through the bucket.
func (s *s3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	listPrefix := s.prefix
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		listPrefix = s.key(p)
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})

	objects := []Object{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			objects = append(objects, Object{
				Path:       s.relative(key),
				URL:        s.objectURL(key),
				UploadedAt: aws.ToTime(item.LastModified),
				Size:       aws.ToInt64(item.Size),
			})
		}
	}
	return objects, nil
}

// Get reads a whole object into memory.
func (s *s3Store) Get(ctx context.Context, p string) ([]byte, error) {
	rel, ok := cleanPath(p)
	if !ok {
		return nil, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rel)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *s3Store) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return path.Join(s.prefix, rel)
}

func (s *s3Store) relative(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func (s *s3Store) objectURL(key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
