package backup

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/fabkeep/kernel/model"
	"github.com/pkg/errors"
)

// Offsite copies archives and their manifest sidecars to and from an S3 bucket.
type Offsite struct {
	Bucket     string
	Prefix     string
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

func NewOffsite(cfg model.BackupConfig) (*Offsite, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("backup.s3_bucket is not configured")
	}
	awsCfg := aws.NewConfig()
	if cfg.S3Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.S3Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create aws session")
	}
	return &Offsite{
		Bucket:     cfg.S3Bucket,
		Prefix:     cfg.S3Prefix,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

func (o *Offsite) Key(archive string) string {
	return path.Join(o.Prefix, filepath.Base(archive))
}

// Upload pushes the archive and its sidecar manifest, returning the archive key.
func (o *Offsite) Upload(ctx context.Context, archive string) (string, error) {
	key := o.Key(archive)
	for _, pair := range [][2]string{{archive, key}, {archive + SidecarSuffix, key + SidecarSuffix}} {
		if err := o.put(ctx, pair[0], pair[1]); err != nil {
			return "", err
		}
	}
	pfxlog.Logger().Infof("uploaded [%s] to s3://%s/%s", archive, o.Bucket, key)
	return key, nil
}

func (o *Offsite) put(ctx context.Context, local, key string) error {
	f, err := os.Open(local)
	if err != nil {
		return errors.Wrapf(err, "unable to open [%s]", local)
	}
	defer func() { _ = f.Close() }()

	_, err = o.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return errors.Wrapf(err, "unable to upload s3://%s/%s", o.Bucket, key)
}

// Download fetches key into dir and returns the local archive path. The archive is verified on restore, not here.
func (o *Offsite) Download(ctx context.Context, key, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "unable to create [%s]", dir)
	}
	local := filepath.Join(dir, path.Base(key))
	f, err := os.Create(local)
	if err != nil {
		return "", errors.Wrapf(err, "unable to create [%s]", local)
	}
	defer func() { _ = f.Close() }()

	n, err := o.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = os.Remove(local)
		return "", errors.Wrapf(err, "unable to download s3://%s/%s", o.Bucket, key)
	}
	pfxlog.Logger().Infof("downloaded s3://%s/%s (%d bytes)", o.Bucket, key, n)
	return local, nil
}
