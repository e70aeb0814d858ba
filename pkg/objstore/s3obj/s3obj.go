// Package s3obj implements objstore.Store against an S3-compatible bucket.
// PutIfAbsent uses the PutObject IfNoneMatch precondition rather than a
// separate head-then-put check, the way Tessera's AWS storage driver
// guards its tile writes: the server rejects the write atomically if the
// key already exists, closing the race a client-side check would leave
// open.
package s3obj

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/cuemby/chronicle/pkg/objstore"
)

// Client is the subset of *s3.Client methods s3obj depends on, so tests
// can substitute a fake without a real bucket.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store is an S3-backed objstore.Store.
type Store struct {
	client Client
	bucket string
	prefix string
}

// New wraps an S3 client and bucket as an objstore.Store. prefix, if
// non-empty, is prepended to every key and stripped from List results.
func New(client Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) objKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (objstore.ObjectMeta, error) {
	objKey := s.objKey(key)
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("s3obj: put %s: %w", key, err)
	}
	return objstore.ObjectMeta{Key: key, Size: int64(len(data)), ETag: aws.ToString(out.ETag)}, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, data []byte) (objstore.ObjectMeta, error) {
	objKey := s.objKey(key)
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objKey),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return objstore.ObjectMeta{}, objstore.ErrAlreadyExists
		}
		return objstore.ObjectMeta{}, fmt.Errorf("s3obj: put-if-absent %s: %w", key, err)
	}
	return objstore.ObjectMeta{Key: key, Size: int64(len(data)), ETag: aws.ToString(out.ETag)}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var apiErr smithy.APIError
		if errors.As(err, &nsk) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey") {
			return nil, objstore.ErrNotFound
		}
		return nil, fmt.Errorf("s3obj: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3obj: get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, prefix string, offset, limit int) ([]objstore.ObjectMeta, error) {
	var metas []objstore.ObjectMeta
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.objKey(prefix)),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("s3obj: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = key[len(s.prefix)+1:]
			}
			metas = append(metas, objstore.ObjectMeta{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Key < metas[j].Key })

	if offset >= len(metas) {
		return nil, nil
	}
	metas = metas[offset:]
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3obj: delete %s: %w", key, err)
	}
	return nil
}

var _ objstore.Store = (*Store)(nil)
