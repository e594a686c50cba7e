package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantfall/crossarb/internal/domain"
)

// minPartSize is the S3 floor for multipart parts (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter against the archive bucket.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter creates a Writer on the shared client.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c.s3,
		bucket:   c.bucket,
		uploader: manager.NewUploader(c.s3),
	}
}

// Put uploads data as a single PutObject call. Monthly position archives are
// small JSONL batches, well inside the single-shot limit.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager, which splits it into
// concurrently uploaded parts. A partSize under the S3 floor is clamped.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   data,
	}, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
