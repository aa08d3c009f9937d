package featurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"
)

const DefaultVisibilityInterval = 60 * time.Second
const DefaultVisibilityAttempts = 60

var ErrVisibilityTimeout = errors.New("offline store data did not become " +
	"visible")

// S3Client lists the offline store.
type S3Client interface {
	ListObjectsV2WithContext(ctx aws.Context, input *s3.ListObjectsV2Input,
		opts ...request.Option) (*s3.ListObjectsV2Output, error)
}

// VisibilityWatcher waits for ingested records to materialize in the
// offline store. Data counts as visible once more than one object exists
// under Prefix.
type VisibilityWatcher struct {
	Client   S3Client
	Bucket   string
	Prefix   string
	Interval time.Duration
	// MaxAttempts bounds the listings; 0 retries until ctx is done.
	MaxAttempts int
	Clock       Clock
	Logger      *zap.Logger
}

func NewVisibilityWatcher(client S3Client, bucket string, prefix string,
	clock Clock, logger *zap.Logger) *VisibilityWatcher {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisibilityWatcher{
		Client:      client,
		Bucket:      bucket,
		Prefix:      prefix,
		Interval:    DefaultVisibilityInterval,
		MaxAttempts: DefaultVisibilityAttempts,
		Clock:       clock,
		Logger:      logger,
	}
}

// objectCount lists at most two keys, which is all Wait needs to know.
func (watcher *VisibilityWatcher) objectCount(ctx context.Context) (int,
	error) {
	output, err := watcher.Client.ListObjectsV2WithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket:  aws.String(watcher.Bucket),
			Prefix:  aws.String(watcher.Prefix),
			MaxKeys: aws.Int64(2),
		})
	if err != nil {
		return 0, err
	}
	if output.KeyCount != nil {
		return int(*output.KeyCount), nil
	}
	return len(output.Contents), nil
}

// Wait lists the prefix every Interval until data is visible. Listing
// errors are logged and retried like an empty listing.
func (watcher *VisibilityWatcher) Wait(ctx context.Context) error {
	start := watcher.Clock.Now()
	for attempt := 1; ; attempt++ {
		count, err := watcher.objectCount(ctx)
		switch {
		case err != nil:
			watcher.Logger.Warn("Listing offline store failed",
				zap.String("bucket", watcher.Bucket),
				zap.String("prefix", watcher.Prefix), zap.Error(err))
		case count > 1:
			watcher.Logger.Info("Offline store data is visible",
				zap.String("prefix", watcher.Prefix),
				zap.Int("attempts", attempt),
				zap.Duration("waited", watcher.Clock.Now().Sub(start)))
			return nil
		default:
			watcher.Logger.Info("Waiting for data in offline store",
				zap.String("prefix", watcher.Prefix),
				zap.Int("attempt", attempt))
		}
		if watcher.MaxAttempts > 0 && attempt >= watcher.MaxAttempts {
			return fmt.Errorf("%w: s3://%s/%s after %d attempts",
				ErrVisibilityTimeout, watcher.Bucket, watcher.Prefix, attempt)
		}
		if sleepErr := watcher.Clock.Sleep(ctx, watcher.Interval); sleepErr != nil {
			return sleepErr
		}
	}
}
