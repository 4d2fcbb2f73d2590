package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// Global S3 credentials (read from environment)
const (
	S3GlobalAccessKey = "S3_ACCESS_KEY"
	S3GlobalSecretKey = "S3_SECRET_KEY"
	S3GlobalEndpoint  = "S3_ENDPOINT"
	S3GlobalRegion    = "S3_REGION"
	S3GlobalBucket    = "S3_BUCKET"
)

// S3Config holds S3 configuration for a company.
type S3Config struct {
	Enabled       bool
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PathStyle     bool
	PublicURL     string
	RetentionDays int
	EnableACL     bool // Enable setting ACL on uploaded objects (for legacy buckets)
}

// S3Storage manages per-company S3 clients and implements Storage.
type S3Storage struct {
	mu      sync.RWMutex
	clients map[string]*s3.Client
	configs map[string]*S3Config
}

func NewS3Storage() *S3Storage {
	return &S3Storage{
		clients: make(map[string]*s3.Client),
		configs: make(map[string]*S3Config),
	}
}

// InitializeClient creates or updates the S3 client for a company.
func (m *S3Storage) InitializeClient(companyID string, config *S3Config) error {
	if !config.Enabled {
		m.RemoveClient(companyID)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Global environment credentials win over per-company ones.
	accessKey := os.Getenv(S3GlobalAccessKey)
	secretKey := os.Getenv(S3GlobalSecretKey)
	if accessKey == "" {
		accessKey = config.AccessKey
	}
	if secretKey == "" {
		secretKey = config.SecretKey
	}
	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("S3 credentials not available - set %s and %s environment variables or configure company-specific credentials", S3GlobalAccessKey, S3GlobalSecretKey)
	}

	credProvider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	region := config.Region
	if globalRegion := os.Getenv(S3GlobalRegion); globalRegion != "" {
		region = globalRegion
	}

	endpoint := config.Endpoint
	if globalEndpoint := os.Getenv(S3GlobalEndpoint); globalEndpoint != "" {
		endpoint = globalEndpoint
	}

	// Clean endpoint if it contains bucket name (common misconfiguration)
	if endpoint != "" && strings.Contains(endpoint, config.Bucket+".") {
		endpoint = strings.Replace(endpoint, config.Bucket+".", "", 1)
		log.Warn().
			Str("companyID", companyID).
			Str("cleanedEndpoint", endpoint).
			Str("bucket", config.Bucket).
			Msg("Cleaned bucket name from S3 endpoint - endpoint should not contain bucket name")
	}

	if globalBucket := os.Getenv(S3GlobalBucket); globalBucket != "" && config.Bucket == "" {
		config.Bucket = globalBucket
	}

	cfg := aws.Config{
		Region:      region,
		Credentials: credProvider,
	}

	if endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: config.PathStyle,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		cfg.EndpointResolverWithOptions = customResolver
	}

	// Buckets with dots need path-style URLs to avoid SSL certificate issues.
	usePathStyle := config.PathStyle
	if strings.Contains(config.Bucket, ".") {
		usePathStyle = true
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	m.clients[companyID] = client
	m.configs[companyID] = config

	log.Info().
		Str("companyID", companyID).
		Str("bucket", config.Bucket).
		Str("region", region).
		Str("endpoint", endpoint).
		Msg("S3 client initialized")
	return nil
}

// RemoveClient removes the S3 client for a company.
func (m *S3Storage) RemoveClient(companyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clients, companyID)
	delete(m.configs, companyID)
}

func (m *S3Storage) getClient(companyID string) (*s3.Client, *S3Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, clientOk := m.clients[companyID]
	config, configOk := m.configs[companyID]
	return client, config, clientOk && configOk
}

// objectKey builds the S3 key from message metadata:
// companies/<id>/<inbox|outbox>/<contact>/<yyyy>/<mm>/<dd>/<media-type>/<message-id><ext>
func (m *S3Storage) objectKey(companyID, contactJID, messageID, mimeType string, incoming bool) string {
	direction := "outbox"
	if incoming {
		direction = "inbox"
	}

	contactJID = strings.ReplaceAll(contactJID, "@", "_")
	contactJID = strings.ReplaceAll(contactJID, ":", "_")

	now := time.Now()

	mediaType := "documents"
	if strings.HasPrefix(mimeType, "image/") {
		mediaType = "images"
	} else if strings.HasPrefix(mimeType, "video/") {
		mediaType = "videos"
	} else if strings.HasPrefix(mimeType, "audio/") {
		mediaType = "audio"
	}

	ext := ".bin"
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		ext = ".jpg"
	case strings.Contains(mimeType, "png"):
		ext = ".png"
	case strings.Contains(mimeType, "gif"):
		ext = ".gif"
	case strings.Contains(mimeType, "webp"):
		ext = ".webp"
	case strings.Contains(mimeType, "mp4"):
		ext = ".mp4"
	case strings.Contains(mimeType, "webm"):
		ext = ".webm"
	case strings.Contains(mimeType, "ogg"):
		ext = ".ogg"
	case strings.Contains(mimeType, "opus"):
		ext = ".opus"
	case strings.Contains(mimeType, "pdf"):
		ext = ".pdf"
	case strings.Contains(mimeType, "docx"):
		ext = ".docx"
	case strings.Contains(mimeType, "doc"):
		ext = ".doc"
	}

	return fmt.Sprintf("companies/%s/%s/%s/%s/%s/%s/%s/%s%s",
		companyID,
		direction,
		contactJID,
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
		mediaType,
		messageID,
		ext,
	)
}

func (m *S3Storage) upload(ctx context.Context, companyID, key string, data []byte, mimeType string) error {
	client, config, ok := m.getClient(companyID)
	if !ok {
		return fmt.Errorf("S3 client not initialized for company %s", companyID)
	}

	contentType := mimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(config.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}

	// Only set ACL if explicitly enabled (for legacy bucket compatibility)
	if config.EnableACL {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	if config.RetentionDays > 0 {
		expirationTime := time.Now().Add(time.Duration(config.RetentionDays) * 24 * time.Hour)
		input.Expires = &expirationTime
	}

	// Inline disposition so browsers can preview.
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		log.Error().
			Str("companyID", companyID).
			Str("key", key).
			Str("bucket", config.Bucket).
			Int("size", len(data)).
			Err(err).
			Msg("Failed to upload file to S3")
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().
		Str("companyID", companyID).
		Str("key", key).
		Int("size", len(data)).
		Msg("File uploaded to S3")
	return nil
}

// PublicURL generates the public URL for an object.
func (m *S3Storage) PublicURL(companyID, key string) string {
	_, config, ok := m.getClient(companyID)
	if !ok {
		return ""
	}

	if config.PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(config.PublicURL, "/"), config.Bucket, key)
	}

	endpoint := config.Endpoint
	if globalEndpoint := os.Getenv(S3GlobalEndpoint); globalEndpoint != "" {
		endpoint = globalEndpoint
	}
	region := config.Region
	if globalRegion := os.Getenv(S3GlobalRegion); globalRegion != "" {
		region = globalRegion
	}

	usePathStyle := config.PathStyle
	if strings.Contains(config.Bucket, ".") {
		usePathStyle = true
	}

	if endpoint != "" && !strings.Contains(endpoint, "amazonaws.com") {
		if usePathStyle {
			return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), config.Bucket, key)
		}
		endpointClean := strings.TrimPrefix(endpoint, "https://")
		endpointClean = strings.TrimPrefix(endpointClean, "http://")
		return fmt.Sprintf("https://%s.%s/%s", config.Bucket, endpointClean, key)
	}

	if usePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", region, config.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", config.Bucket, region, key)
}

// Save implements Storage: uploads the payload, plus a JPEG thumbnail for
// images, and returns the object key and public URL.
func (m *S3Storage) Save(ctx context.Context, companyID, contactJID, messageID string, data []byte, mimeType, fileName string, incoming bool) (*Stored, error) {
	if _, _, ok := m.getClient(companyID); !ok {
		// Companies without explicit configuration fall back to the
		// global bucket from the environment.
		if bucket := os.Getenv(S3GlobalBucket); bucket != "" {
			if err := m.InitializeClient(companyID, &S3Config{Enabled: true, Bucket: bucket}); err != nil {
				return nil, err
			}
		}
	}

	key := m.objectKey(companyID, contactJID, messageID, mimeType, incoming)

	if err := m.upload(ctx, companyID, key, data, mimeType); err != nil {
		return nil, err
	}

	if strings.HasPrefix(mimeType, "image/") {
		if thumb := Thumbnail(data); thumb != nil {
			thumbKey := key + "_thumb.jpg"
			if err := m.upload(ctx, companyID, thumbKey, thumb, "image/jpeg"); err != nil {
				log.Warn().Err(err).Str("key", thumbKey).Msg("Thumbnail upload failed")
			}
		}
	}

	return &Stored{
		Provider: "s3",
		Key:      key,
		URL:      m.PublicURL(companyID, key),
	}, nil
}

// TestConnection lists one object to verify credentials and bucket access.
func (m *S3Storage) TestConnection(ctx context.Context, companyID string) error {
	client, config, ok := m.getClient(companyID)
	if !ok {
		return fmt.Errorf("S3 client not initialized for company %s", companyID)
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(config.Bucket),
		MaxKeys: aws.Int32(1),
	}
	_, err := client.ListObjectsV2(ctx, input)
	return err
}

// DeleteAllCompanyObjects deletes every stored object of one company.
func (m *S3Storage) DeleteAllCompanyObjects(ctx context.Context, companyID string) error {
	client, config, ok := m.getClient(companyID)
	if !ok {
		return fmt.Errorf("S3 client not initialized for company %s", companyID)
	}

	prefix := fmt.Sprintf("companies/%s/", companyID)
	var toDelete []types.ObjectIdentifier
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(config.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		}
		output, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to list objects for company %s: %w", companyID, err)
		}

		for _, obj := range output.Contents {
			toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
			// Delete in batches of 1000 (S3 limit)
			if len(toDelete) == 1000 {
				if _, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: aws.String(config.Bucket),
					Delete: &types.Delete{Objects: toDelete},
				}); err != nil {
					return fmt.Errorf("failed to delete objects for company %s: %w", companyID, err)
				}
				toDelete = nil
			}
		}

		if output.IsTruncated != nil && *output.IsTruncated && output.NextContinuationToken != nil {
			continuationToken = output.NextContinuationToken
		} else {
			break
		}
	}

	if len(toDelete) > 0 {
		if _, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(config.Bucket),
			Delete: &types.Delete{Objects: toDelete},
		}); err != nil {
			return fmt.Errorf("failed to delete objects for company %s: %w", companyID, err)
		}
	}

	log.Info().Str("companyID", companyID).Msg("all company files removed from S3")
	return nil
}
