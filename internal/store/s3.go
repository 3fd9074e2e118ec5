package store

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
)

type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures the object-backed store.
type S3Options struct {
	Bucket    string
	Key       string
	Region    string
	Endpoint  string
	PathStyle bool
	Location  *time.Location
}

// S3Store keeps the workbook as a single object. Saves are conditional on the
// ETag seen at load time, so a concurrent writer can never be overwritten.
type S3Store struct {
	client objectAPI
	bucket string
	key    string
	format Format
	loc    *time.Location
}

// NewS3Store builds a client from the default AWS credential chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, errors.New("s3 store needs a bucket and a key")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return newS3Store(client, opts), nil
}

func newS3Store(client objectAPI, opts S3Options) *S3Store {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		key:    opts.Key,
		format: FormatFromPath(opts.Key),
		loc:    loc,
	}
}

// Load fetches and decodes the workbook object.
func (s *S3Store) Load(ctx context.Context) (*Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, classifyS3Error(errors.Wrapf(err, "get s3://%s/%s", s.bucket, s.key))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read workbook object")
	}
	snap, err := decodeWorkbook(data, s.format, s.loc)
	if err != nil {
		return nil, err
	}
	snap.Revision = aws.ToString(out.ETag)
	return snap, nil
}

// Save uploads the whole workbook, guarded by If-Match on the loaded revision.
func (s *S3Store) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encodeWorkbook(snap, s.format)
	if err != nil {
		return err
	}
	contentType := "application/yaml"
	if s.format == FormatJSON {
		contentType = "application/json"
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if snap.Revision != "" {
		in.IfMatch = aws.String(snap.Revision)
	} else {
		in.IfNoneMatch = aws.String("*")
	}
	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return classifyS3Error(errors.Wrapf(err, "put s3://%s/%s", s.bucket, s.key))
	}
	snap.Revision = aws.ToString(out.ETag)
	snap.MarkClean()
	return nil
}

// classifyS3Error maps missing objects to ErrNotFound and in-flight
// conflicting writes or throttling to ErrBusy. A failed If-Match stays fatal:
// the object changed under us and retrying the same body cannot succeed.
func classifyS3Error(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return errors.Mark(err, ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errors.Mark(err, ErrNotFound)
		case "ConditionalRequestConflict", "SlowDown", "RequestTimeout":
			return errors.Mark(err, ErrBusy)
		}
	}
	return err
}
