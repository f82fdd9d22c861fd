package aws

import (
	"context"
	"espdesk/internal/config"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// StoredFile describes an object in the export bucket
type StoredFile struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type FileService interface {
	ListFiles(ctx context.Context, prefix string) ([]StoredFile, error)
	UploadFile(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	TestConnection(ctx context.Context) error
}

type fileService struct {
	s3       *s3.Client
	bucket   string
	region   string
	endpoint string
}

func NewFileService(cfg config.S3Config) (FileService, error) {
	// Static credentials when configured, the default chain otherwise
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			}, nil
		})
		opts = append(opts, awsconfig.WithCredentialsProvider(credProvider))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Msg("S3 file service initialized")

	return &fileService{
		s3:       client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

func (s *fileService) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *fileService) UploadFile(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	uploader := manager.NewUploader(s.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to upload file")
		return "", err
	}

	log.Info().Str("key", key).Msg("Uploaded file")
	return s.objectURL(key), nil
}

// ListFiles returns the objects under prefix, following continuation pages
func (s *fileService) ListFiles(ctx context.Context, prefix string) ([]StoredFile, error) {
	files := []StoredFile{}

	paginator := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			files = append(files, StoredFile{
				Key:          key,
				URL:          s.objectURL(key),
				Size:         aws.ToInt64(object.Size),
				LastModified: aws.ToTime(object.LastModified),
			})
		}
	}

	return files, nil
}

func (s *fileService) TestConnection(ctx context.Context) error {
	// Try to list objects with max 1 result to test the connection
	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		log.Err(err).Msg("AWS S3 Test Connection")
	}
	return err
}
