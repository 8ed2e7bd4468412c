package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Mirror serves read requests from a static JSON snapshot of the content
// API kept in a bucket. Origins take the form s3://bucket/prefix.
type S3Mirror struct {
	downloader *manager.Downloader
}

type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

func NewS3Mirror(client manager.DownloadAPIClient) *S3Mirror {
	return &S3Mirror{
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = 1
		}),
	}
}

func (m *S3Mirror) Fetch(ctx context.Context, origin string, req Request) (Response, error) {
	if !req.Idempotent() {
		return Response{}, fmt.Errorf("s3 mirror is read-only, got %s", req.Method)
	}
	bucket, prefix, err := parseS3Origin(origin)
	if err != nil {
		return Response{}, err
	}

	buf := manager.NewWriteAtBuffer(nil)
	_, err = m.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ObjectKey(prefix, req.Path, req.Query)),
	})
	if err != nil {
		if isNotFound(err) {
			return Response{Status: http.StatusNotFound, Header: http.Header{}}, nil
		}
		return Response{}, err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Response{Status: http.StatusOK, Header: h, Body: buf.Bytes()}, nil
}

// ObjectKey maps a logical request onto the snapshot layout:
// prefix/path.json, or prefix/path/<sorted query>.json when a query is present.
func ObjectKey(prefix, path string, query url.Values) string {
	p := strings.Trim(path, "/")
	if p == "" {
		p = "index"
	}
	if len(query) > 0 {
		p += "/" + query.Encode()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return p + ".json"
	}
	return prefix + "/" + p + ".json"
}

func parseS3Origin(origin string) (string, string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 origin %q", origin)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
