/*
Copyright © 2018 the SynMAP authors.
This file is part of SynMAP.

SynMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SynMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SynMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package synmaputil

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff"
	"github.com/google/go-cloud/blob"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/google/go-cloud/blob/gcsblob"
	"github.com/google/go-cloud/blob/s3blob"
	"github.com/google/go-cloud/gcp"
)

// maybeDownload checks if the file represented by path is local or
// remote, and downloads it to a temporary directory if it is remote.
// Any errors that occur are reported through c and the unchanged path
// is returned.
func maybeDownload(ctx context.Context, path string, c chan string) string {
	// If the local file exists, return its path.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return downloadHTTP(path, c)
	}
	if IsBlob(path) {
		return downloadBlob(ctx, path, c)
	}
	return path
}

// downloadHTTP downloads the file at path, plus the associated files
// if path is a shapefile, and returns the local path of the downloaded
// copy. Transient fetch failures are retried with exponential backoff.
func downloadHTTP(path string, c chan string) string {
	dir, err := ioutil.TempDir("", "synmap")
	if err != nil {
		panic(fmt.Errorf("synmaputil: creating download directory: %v", err))
	}
	fnames := expandShp(path)
	for i, fname := range fnames {
		dst := filepath.Join(dir, filepath.Base(fname))
		err := backoff.RetryNotify(
			func() error { return fetchHTTP(fname, dst) },
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3),
			func(err error, d time.Duration) {
				Log.Warnf("%v: retrying in %v", err, d)
			},
		)
		if err == nil {
			continue
		}
		if i == 0 {
			c <- err.Error()
			return path
		}
		// The associated files of a shapefile may legitimately be
		// missing.
		os.Remove(dst)
	}
	return filepath.Join(dir, filepath.Base(fnames[0]))
}

// fetchHTTP downloads url to the file at fileName.
func fetchHTTP(url, fileName string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("synmaputil: downloading %s: %s", url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	w, err := os.Create(fileName)
	if err != nil {
		panic(fmt.Errorf("synmaputil: creating download file: %v", err))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// downloadBlob downloads the blob storage object at path, plus the
// associated objects if path is a shapefile, and returns the local
// path of the downloaded copy.
func downloadBlob(ctx context.Context, path string, c chan string) string {
	u, err := url.Parse(path)
	if err != nil {
		c <- err.Error()
		return path
	}
	bucket, err := OpenBucket(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		c <- err.Error()
		return path
	}
	dir, err := ioutil.TempDir("", "synmap")
	if err != nil {
		panic(fmt.Errorf("synmaputil: creating download directory: %v", err))
	}
	fnames := expandShp(u.Path)
	for i, fname := range fnames {
		r, err := bucket.NewReader(ctx, strings.TrimPrefix(fname, "/"))
		if err != nil {
			if i == 0 {
				c <- err.Error()
				return path
			}
			// The associated files of a shapefile may legitimately be
			// missing.
			continue
		}
		w, err := os.Create(filepath.Join(dir, filepath.Base(fname)))
		if err != nil {
			panic(fmt.Errorf("synmaputil: creating download file: %v", err))
		}
		if _, err := io.Copy(w, r); err != nil {
			c <- err.Error()
			return path
		}
		r.Close()
		w.Close()
	}
	return filepath.Join(dir, filepath.Base(fnames[0]))
}

// IsBlob returns whether the given file name represents a blob storage
// location.
func IsBlob(path string) bool {
	for _, prefix := range []string{"gs://", "s3://", "file://"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// OpenBucket returns the blob storage bucket specified by bucketName,
// which must be in the format 'provider://name' where provider is one
// of 'file', 'gs', or 's3' and name is the name of the bucket.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("synmaputil: parsing bucket name %s: %v", bucketName, err)
	}
	switch u.Scheme {
	case "file":
		return fileblob.NewBucket(u.Hostname())
	case "gs":
		return gsBucket(ctx, u.Hostname())
	case "s3":
		return s3Bucket(ctx, u.Hostname())
	default:
		return nil, fmt.Errorf("synmaputil.OpenBucket: invalid provider %s", u.Scheme)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("synmaputil: getting Google Cloud credentials: %v", err)
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, name, c)
}

func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s := session.Must(session.NewSession(c))
	return s3blob.OpenBucket(ctx, s, name)
}

// expandShp returns the given file plus its associated files if the
// given file is a shapefile.
func expandShp(fileName string) []string {
	o := []string{fileName}
	ext := filepath.Ext(fileName)
	if ext != ".shp" {
		return o
	}
	for _, newExt := range []string{".dbf", ".shx", ".prj"} {
		o = append(o, strings.TrimSuffix(fileName, ext)+newExt)
	}
	return o
}
