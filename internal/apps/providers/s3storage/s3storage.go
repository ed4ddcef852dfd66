// Package s3storage stores booking attachments in a company's own S3 (or S3
// compatible) bucket.
package s3storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
)

const Schema = "s3-storage/v1"

// maxDownloadBytes bounds what an app call streams back through the gateway.
const maxDownloadBytes = 25 << 20

// Settings is a bucket configuration.
type Settings struct {
	Bucket          string `json:"bucket" validate:"required,min=3,max=63"`
	Region          string `json:"region" validate:"required,max=32"`
	Endpoint        string `json:"endpoint,omitempty" validate:"omitempty,url"`
	AccessKeyID     string `json:"access_key_id" validate:"required,max=128"`
	SecretAccessKey string `json:"secret_access_key" validate:"required,max=128"`
	Prefix          string `json:"prefix,omitempty" validate:"max=256"`
}

type data struct {
	Settings Settings `json:"settings"`
	Uploaded int      `json:"uploaded"`
}

type Handler struct {
	newClient ClientFactory
}

func New(factory ClientFactory) *Handler {
	if factory == nil {
		factory = NewS3Client
	}
	return &Handler{newClient: factory}
}

func (h *Handler) AppName() string { return catalog.S3Storage }

func (h *Handler) ProcessStaticRequest(ctx context.Context, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	if action.Action != "validate" {
		return nil, providers.UnknownAction(action.Action)
	}
	var s Settings
	if err := providers.DecodeParams(action, &s); err != nil {
		return nil, err
	}
	if err := h.headBucket(ctx, s); err != nil {
		return nil, err
	}
	return &capability.Result{Body: map[string]bool{"valid": true}}, nil
}

type listParams struct {
	Prefix string `json:"prefix" validate:"max=256"`
	Limit  int32  `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type fileEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ProcessRequest supports configure and list-files.
func (h *Handler) ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	switch action.Action {
	case "configure":
		var s Settings
		if err := providers.DecodeParams(action, &s); err != nil {
			return nil, err
		}
		s.Prefix = strings.Trim(s.Prefix, "/")
		if err := h.headBucket(ctx, s); err != nil {
			return nil, err
		}
		stored, err := providers.EncodeData(Schema, data{Settings: s})
		if err != nil {
			return nil, err
		}
		connected := models.StatusConnected
		return &capability.Result{
			Body: map[string]string{"bucket": s.Bucket},
			Delta: &models.InstanceDelta{
				Status:  &connected,
				Data:    stored,
				Account: &models.Account{ID: s.Bucket, DisplayName: s.Bucket + " (" + s.Region + ")"},
			},
		}, nil
	case "list-files":
		d, err := h.settings(inst)
		if err != nil {
			return nil, err
		}
		var p listParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		if p.Limit == 0 {
			p.Limit = 100
		}
		out, err := h.newClient(d.Settings).ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(d.Settings.Bucket),
			Prefix:  aws.String(objectKey(d.Settings.Prefix, inst, p.Prefix)),
			MaxKeys: aws.Int32(p.Limit),
		})
		if err != nil {
			return nil, classify(err)
		}
		files := make([]fileEntry, 0, len(out.Contents))
		base := objectKey(d.Settings.Prefix, inst, "")
		for _, obj := range out.Contents {
			files = append(files, fileEntry{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), base),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		return &capability.Result{Body: map[string]any{"files": files}}, nil
	default:
		return nil, providers.UnknownAction(action.Action)
	}
}

// ProcessFormRequest uploads every part named "file".
func (h *Handler) ProcessFormRequest(ctx context.Context, inst *models.Instance, form *multipart.Form) (*capability.Result, error) {
	d, err := h.settings(inst)
	if err != nil {
		return nil, err
	}
	files := form.File["file"]
	if len(files) == 0 {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "missing_file", `form must contain a "file" part`)
	}
	client := h.newClient(d.Settings)
	keys := make([]string, 0, len(files))
	for _, fh := range files {
		name := uuid.NewString() + "-" + safeName(fh.Filename)
		if err := h.upload(ctx, client, d.Settings, objectKey(d.Settings.Prefix, inst, name), fh); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	d.Uploaded += len(keys)
	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	return &capability.Result{
		Body:  map[string]any{"keys": keys},
		Delta: &models.InstanceDelta{Data: stored},
	}, nil
}

func (h *Handler) upload(ctx context.Context, client ObjectAPI, s Settings, key string, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fh.Size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// ProcessAppCall serves GET and DELETE on files/{name}. Anything else is not
// routed.
func (h *Handler) ProcessAppCall(ctx context.Context, inst *models.Instance, subPath []string, r *http.Request) (*capability.RawResponse, error) {
	if len(subPath) < 2 || subPath[0] != "files" {
		return nil, nil
	}
	name := path.Join(subPath[1:]...)
	if strings.Contains(name, "..") {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "invalid_key", "file name is invalid")
	}
	d, err := h.settings(inst)
	if err != nil {
		return nil, err
	}
	client := h.newClient(d.Settings)
	key := objectKey(d.Settings.Prefix, inst, name)

	switch r.Method {
	case http.MethodGet:
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(d.Settings.Bucket), Key: aws.String(key)})
		if err != nil {
			return nil, classify(err)
		}
		defer out.Body.Close()
		if aws.ToInt64(out.ContentLength) > maxDownloadBytes {
			return nil, capability.NewAppRequestError(http.StatusRequestEntityTooLarge, "file_too_large", "file is too large to download through the gateway")
		}
		body, err := io.ReadAll(io.LimitReader(out.Body, maxDownloadBytes))
		if err != nil {
			return nil, fmt.Errorf("read object: %w", err)
		}
		header := http.Header{}
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
		return &capability.RawResponse{
			Status:      http.StatusOK,
			ContentType: aws.ToString(out.ContentType),
			Header:      header,
			Body:        body,
		}, nil
	case http.MethodDelete:
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(d.Settings.Bucket), Key: aws.String(key)}); err != nil {
			return nil, classify(err)
		}
		return &capability.RawResponse{Status: http.StatusNoContent}, nil
	default:
		return nil, nil
	}
}

func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"bucket":            d.Settings.Bucket,
		"region":            d.Settings.Region,
		"endpoint":          d.Settings.Endpoint,
		"prefix":            d.Settings.Prefix,
		"access_key_id":     d.Settings.AccessKeyID,
		"secret_access_key": providers.Mask(d.Settings.SecretAccessKey),
		"uploaded":          d.Uploaded,
	}, nil
}

func (h *Handler) settings(inst *models.Instance) (data, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return d, err
	}
	if d.Settings.Bucket == "" {
		return d, providers.NotConnected(catalog.S3Storage)
	}
	return d, nil
}

func (h *Handler) headBucket(ctx context.Context, s Settings) error {
	_, err := h.newClient(s).HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.Bucket)})
	if err != nil {
		return classify(err)
	}
	return nil
}

// objectKey scopes every key under the instance so two instances sharing a
// bucket never see each other's files.
func objectKey(prefix string, inst *models.Instance, name string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, inst.CompanyID.String(), inst.ID.String())
	return strings.Join(parts, "/") + "/" + name
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// apiError matches smithy API errors without importing the smithy module.
type apiError interface {
	ErrorCode() string
}

func classify(err error) error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		notFound *types.NotFound
		api      apiError
	)
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return capability.NewAppRequestError(http.StatusNotFound, "file_not_found", "no such file")
	case errors.As(err, &noBucket):
		return capability.NewAppRequestError(http.StatusBadRequest, "bucket_not_found", "the bucket does not exist")
	case errors.As(err, &api):
		switch api.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			out := capability.NewAppRequestError(http.StatusBadRequest, "access_denied", "the bucket rejected the credentials")
			out.Err = err
			return out
		}
	}
	return err
}
