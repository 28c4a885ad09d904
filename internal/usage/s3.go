package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/utils"
)

// ObjectPutter is the part of the S3 client the archiver uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes batches of usage records to S3 as JSON Lines objects
type S3Archiver struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Archiver creates an archiver using the default AWS credential chain
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3ArchiverWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewS3ArchiverWithClient creates an archiver over an existing client
func NewS3ArchiverWithClient(client ObjectPutter, cfg config.ArchiveConfig) *S3Archiver {
	return &S3Archiver{
		client:  client,
		bucket:  cfg.S3Bucket,
		prefix:  cfg.S3Prefix,
		podName: cfg.PodName,
		now:     time.Now,
		logger:  utils.NewLogger("s3-archiver"),
	}
}

// objectKey builds e.g. usage/2025/11/30/gateway-0-20251130-143022-123456789.jsonl
func (a *S3Archiver) objectKey(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		a.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		a.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)
}

// WriteBatch implements BatchWriter
func (a *S3Archiver) WriteBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("failed to encode usage record %s: %w", record.RequestID, err)
		}
	}

	key := a.objectKey(a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("Archived usage batch", "key", key, "count", len(records), "bytes", buf.Len())
	return nil
}

// NewS3Recorder buffers records on q and archives at most FlushSize records
// per object
func NewS3Recorder(archiver *S3Archiver, q queue.Queue, dlq queue.DeadLetterQueue, cfg config.ArchiveConfig) *QueueRecorder {
	qc := queue.DefaultConfig("archive")
	if cfg.FlushSize > 0 {
		qc.BatchSize = cfg.FlushSize
	}
	if cfg.FlushInterval > 0 {
		qc.BatchTimeout = cfg.FlushInterval
	}
	return NewQueueRecorder("s3", q, dlq, archiver, qc)
}
