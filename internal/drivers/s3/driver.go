// Package s3 implements the S3 resource driver kind (spec §4.3, C3):
// object storage addressed by bucket+key, accessed through ranged GET,
// buffered PUT, HEAD, and DELETE.
package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

// Config configures one S3-kind resource.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	MaxRetries      int
	RequestTimeout  time.Duration
}

// Driver implements model.Driver and model.CompoundDriver-adjacent
// staging for the S3 driver kind.
type Driver struct {
	client *s3.Client
	bucket string
	cfg    Config
}

// handle is the native token returned by Open and threaded through
// subsequent Read/Write/Lseek/Close calls.
type handle struct {
	mu       sync.Mutex
	key      string
	writable bool
	offset   int64
	writeBuf *bytes.Buffer
}

// New constructs a Driver against cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, ecode.New(ecode.CodeInvalidOption, "s3 driver requires a bucket").WithComponent("drivers/s3")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, ecode.New(ecode.CodeOpenFail, "failed to load AWS config").
			WithComponent("drivers/s3").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Driver{client: client, bucket: cfg.Bucket, cfg: cfg}, nil
}

// Kind implements model.Driver.
func (d *Driver) Kind() model.DriverKind { return model.KindS3 }

// Open returns a handle scoped to physPath (the S3 key). Write-mode
// opens buffer in memory and flush on Close, since S3 has no partial
// in-place write.
func (d *Driver) Open(ctx context.Context, physPath string, flags int, mode uint32) (interface{}, error) {
	writable := flags&(os.O_WRONLY|os.O_RDWR) != 0
	h := &handle{key: physPath, writable: writable}
	if writable {
		h.writeBuf = &bytes.Buffer{}
	}
	return h, nil
}

// Close implements model.Driver, flushing a pending write buffer.
func (d *Driver) Close(ctx context.Context, native interface{}) error {
	h, err := asHandle(native)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.writable || h.writeBuf == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(h.key),
		Body:   bytes.NewReader(h.writeBuf.Bytes()),
	})
	if err != nil {
		return ecode.New(ecode.CodeWriteFail, "s3 PutObject failed").
			WithComponent("drivers/s3").WithDriverKind(string(model.KindS3)).
			WithDetail("key", h.key).WithCause(err)
	}
	return nil
}

// Read implements model.Driver with a ranged GetObject starting at
// the handle's current offset.
func (d *Driver) Read(ctx context.Context, native interface{}, buf []byte) (int, error) {
	h, err := asHandle(native)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	rangeHeader := fmt.Sprintf("bytes=%d-%d", h.offset, h.offset+int64(len(buf))-1)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(h.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if stderr.As(err, &nsk) {
			return 0, ecode.New(ecode.CodeBadPath, "s3 object not found").
				WithComponent("drivers/s3").WithDriverKind(string(model.KindS3)).WithDetail("key", h.key)
		}
		return 0, ecode.New(ecode.CodeReadFail, "s3 GetObject failed").
			WithComponent("drivers/s3").WithDriverKind(string(model.KindS3)).
			WithDetail("key", h.key).WithCause(err)
	}
	defer out.Body.Close()

	n, readErr := io.ReadFull(out.Body, buf)
	if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
		readErr = nil
	}
	h.offset += int64(n)
	return n, readErr
}

// Write implements model.Driver by appending to the in-memory write
// buffer; bytes reach S3 on Close.
func (d *Driver) Write(ctx context.Context, native interface{}, buf []byte) (int, error) {
	h, err := asHandle(native)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.writable || h.writeBuf == nil {
		return 0, ecode.New(ecode.CodeWriteFail, "handle not opened for write").
			WithComponent("drivers/s3").WithDetail("key", h.key)
	}

	n, _ := h.writeBuf.Write(buf)
	h.offset += int64(n)
	return n, nil
}

// Lseek implements model.Driver by repositioning the handle's tracked
// offset. Overflow checking is left to the caller (internal/ioengine);
// an unknown whence is rejected with SEEK_FAIL.
func (d *Driver) Lseek(ctx context.Context, native interface{}, offset int64, whence int) (int64, error) {
	h, err := asHandle(native)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch whence {
	case 0: // SEEK_SET
		h.offset = offset
	case 1: // SEEK_CUR
		h.offset += offset
	case 2: // SEEK_END
		stat, statErr := d.Stat(ctx, h.key)
		if statErr != nil {
			return 0, statErr
		}
		h.offset = stat.Size + offset
	default:
		return 0, ecode.New(ecode.CodeSeekFail, "invalid whence").WithComponent("drivers/s3")
	}
	return h.offset, nil
}

// Unlink implements model.Driver.
func (d *Driver) Unlink(ctx context.Context, physPath string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(physPath),
	})
	if err != nil {
		return ecode.New(ecode.CodeUnlinkFail, "s3 DeleteObject failed").
			WithComponent("drivers/s3").WithDriverKind(string(model.KindS3)).
			WithDetail("key", physPath).WithCause(err)
	}
	return nil
}

// Stat implements model.Driver via HeadObject.
func (d *Driver) Stat(ctx context.Context, physPath string) (model.FileStat, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(physPath),
	})
	if err != nil {
		return model.FileStat{}, ecode.New(ecode.CodeBadPath, "s3 HeadObject failed").
			WithComponent("drivers/s3").WithDriverKind(string(model.KindS3)).
			WithDetail("key", physPath).WithCause(err)
	}

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	modTime := time.Time{}
	if out.LastModified != nil {
		modTime = *out.LastModified
	}
	return model.FileStat{Size: size, ModTime: modTime}, nil
}

func asHandle(native interface{}) (*handle, error) {
	h, ok := native.(*handle)
	if !ok {
		return nil, ecode.New(ecode.CodeInvariantViolated, "s3 driver received a foreign native handle").
			WithComponent("drivers/s3")
	}
	return h, nil
}
