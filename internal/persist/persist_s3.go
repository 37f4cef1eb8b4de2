package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func init() {
	BackendRegistry["s3"] = func(dbName string, raw []byte) (Engine, error) {
		var f S3Factory
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, err
			}
		}
		return f.CreateDatabase(dbName), nil
	}
}

// S3Factory mirrors the teacher's S3Factory (storage/persistence-s3.go):
// the same access-key/region/endpoint/bucket/prefix/path-style knobs, so a
// deployment that already runs memcp against S3-compatible storage can
// point siridbd at the same bucket layout convention.
type S3Factory struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

func (f *S3Factory) CreateDatabase(dbName string) Engine {
	pfx := dbName
	if f.Prefix != "" {
		pfx = f.Prefix + "/" + dbName
	}
	return &S3Backend{factory: f, prefix: pfx}
}

// S3 object layout, parallel to the teacher's shard-column/log convention:
//   - body:     <prefix>/<shardID>.body
//   - tail:     <prefix>/<shardID>.tail.manifest   (JSON array of segment numbers)
//               <prefix>/<shardID>.tail.<seg8>     (one segment, rewritten whole on every flush)
//
// S3 has no append API, so each appended chunk goes to the current
// (highest-numbered) segment, which is read fully, extended in memory, and
// re-written in full — the same trade-off the teacher's S3Logfile makes.
type S3Backend struct {
	factory *S3Factory
	prefix  string

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func (s *S3Backend) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if s.factory.Region != "" {
		opts = append(opts, config.WithRegion(s.factory.Region))
	}
	if s.factory.AccessKeyID != "" && s.factory.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.factory.AccessKeyID, s.factory.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("persist: load aws config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if s.factory.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(s.factory.Endpoint) })
	}
	if s.factory.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	s.client = s3.NewFromConfig(cfg, s3Opts...)
	s.opened = true
	return nil
}

func (s *S3Backend) key(name string) string { return s.prefix + "/" + name }

func (s *S3Backend) ReadShardBody(shardID string) (io.ReadCloser, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.key(shardID + ".body")),
	})
	if err != nil {
		return ErrorReader{err}, nil
	}
	return resp.Body, nil
}

type s3WriteCloser struct {
	s   *S3Backend
	key string
	buf bytes.Buffer
}

func (w *s3WriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *s3WriteCloser) Close() error {
	_, err := w.s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(w.s.factory.Bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	return err
}

func (s *S3Backend) WriteShardBody(shardID string) (io.WriteCloser, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return &s3WriteCloser{s: s, key: s.key(shardID + ".body")}, nil
}

type s3segInfo struct {
	seg uint32
	key string
}

func (s *S3Backend) listSegments(shardID string) ([]s3segInfo, error) {
	resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.key(shardID + ".tail.manifest")),
	})
	if err != nil {
		return nil, fmt.Errorf("persist: no manifest for %s", shardID)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("persist: empty manifest for %s", shardID)
	}
	var segs []uint32
	if err := json.Unmarshal(raw, &segs); err != nil {
		return nil, err
	}
	out := make([]s3segInfo, len(segs))
	for i, seg := range segs {
		out[i] = s3segInfo{seg: seg, key: s.key(fmt.Sprintf("%s.tail.%08d", shardID, seg))}
	}
	return out, nil
}

func (s *S3Backend) writeManifest(shardID string, segs []uint32) error {
	raw, _ := json.Marshal(segs)
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.key(shardID + ".tail.manifest")),
		Body:   bytes.NewReader(raw),
	})
	return err
}

// s3AppendWriter buffers the current segment's bytes in memory (loaded once
// on open) and re-PUTs the whole segment on every Write — the same
// whole-object-rewrite trade-off the teacher accepts in S3Logfile, since
// S3 has no append primitive.
type s3AppendWriter struct {
	s       *S3Backend
	shardID string
	key     string
	body    bytes.Buffer
}

func (s *S3Backend) OpenShardAppend(shardID string) (AppendWriter, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	segs, err := s.listSegments(shardID)
	var seg uint32
	if err != nil || len(segs) == 0 {
		seg = 0
		if werr := s.writeManifest(shardID, []uint32{0}); werr != nil {
			return nil, werr
		}
	} else {
		seg = segs[len(segs)-1].seg
	}
	key := s.key(fmt.Sprintf("%s.tail.%08d", shardID, seg))
	w := &s3AppendWriter{s: s, shardID: shardID, key: key}
	resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		defer resp.Body.Close()
		existing, _ := io.ReadAll(resp.Body)
		w.body.Write(existing)
	}
	return w, nil
}

func (w *s3AppendWriter) Write(p []byte) (int, error) {
	n, err := w.body.Write(p)
	if err != nil {
		return n, err
	}
	_, perr := w.s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(w.s.factory.Bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.body.Bytes()),
	})
	return n, perr
}
func (w *s3AppendWriter) Offset() (int64, error) { return int64(w.body.Len()), nil }
func (w *s3AppendWriter) Sync() error { return nil }
func (w *s3AppendWriter) Close() error { return nil }

func (s *S3Backend) ReplayShardChunks(shardID string) (<-chan Chunk, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		segs, err := s.listSegments(shardID)
		if err != nil {
			return
		}
		var offset int64
		for _, seg := range segs {
			resp, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
				Bucket: aws.String(s.factory.Bucket),
				Key:    aws.String(seg.key),
			})
			if err != nil {
				continue
			}
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				continue
			}
			for off := 0; off+4 <= len(data); {
				n := int(uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24)
				if off+4+n > len(data) {
					break
				}
				chunk := data[off+4 : off+4+n]
				out <- Chunk{Offset: offset, Data: chunk}
				offset += int64(4 + n)
				off += 4 + n
			}
		}
	}()
	return out, nil
}

func (s *S3Backend) RemoveShard(shardID string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	ctx := context.Background()
	_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.key(shardID + ".body")),
	})
	segs, _ := s.listSegments(shardID)
	for _, seg := range segs {
		_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.factory.Bucket),
			Key:    aws.String(seg.key),
		})
	}
	_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(s.key(shardID + ".tail.manifest")),
	})
	return nil
}

func (s *S3Backend) Remove() error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	ctx := context.Background()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.factory.Bucket),
		Prefix: aws.String(s.prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			break
		}
		for _, obj := range page.Contents {
			_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.factory.Bucket), Key: obj.Key})
		}
	}
	return nil
}
