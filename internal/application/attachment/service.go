package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/docket-desk/internal/domain"
	"github.com/docket-desk/internal/pkg/id"
)

// ObjectStore is the blob storage attachments live in.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// ItemStore is the part of the item repository attachments need.
type ItemStore interface {
	GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error)
	UpdateAttachment(ctx context.Context, kind domain.Kind, itemID int64, a *domain.Attachment) (*domain.Item, error)
}

type UploadInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
	Uploader    domain.Actor
}

// Service links scanned files to documents. Notifications carry no attachment.
type Service interface {
	Attach(ctx context.Context, itemID int64, input UploadInput) (*domain.Item, error)
	Link(ctx context.Context, itemID int64) (string, *domain.Attachment, error)
	Open(ctx context.Context, itemID int64) (io.ReadCloser, *domain.Attachment, error)
}

type ServiceDeps struct {
	Objects ObjectStore
	Items   ItemStore
	URLTTL  time.Duration
	Now     func() time.Time
}

type service struct {
	objects ObjectStore
	items   ItemStore
	urlTTL  time.Duration
	nowFn   func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{objects: deps.Objects, items: deps.Items, urlTTL: deps.URLTTL, nowFn: deps.Now}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.urlTTL <= 0 {
		s.urlTTL = 15 * time.Minute
	}
	return s
}

// Attach uploads the file and records it on the document, replacing any
// previous attachment. Finalized and deleted documents are frozen.
func (s *service) Attach(ctx context.Context, itemID int64, input UploadInput) (*domain.Item, error) {
	it, err := s.document(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.State.IsTerminal() {
		return nil, fmt.Errorf("document %d is %s: %w", itemID, it.State, domain.ErrConflict)
	}

	safeName := sanitizeFilename(input.Filename)
	contentType := input.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromName(safeName)
	}
	key := fmt.Sprintf("documents/%d/%s-%s", itemID, id.New(), safeName)
	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(input.Reader, hasher)}
	if err := s.objects.Upload(ctx, key, counter, input.Size, contentType); err != nil {
		return nil, &domain.StoreError{Err: err}
	}

	a := &domain.Attachment{
		Object:     key,
		Name:       safeName,
		Type:       contentType,
		Size:       counter.n,
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		UploadedBy: input.Uploader.UserID,
		UploadedAt: s.nowFn().UTC().Truncate(time.Second),
	}
	updated, err := s.items.UpdateAttachment(ctx, domain.KindDocument, itemID, a)
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	if it.Attachment != nil && it.Attachment.Object != key {
		s.discard(ctx, it.Attachment.Object)
	}
	return updated, nil
}

// Link returns a presigned download URL for the document's attachment.
func (s *service) Link(ctx context.Context, itemID int64) (string, *domain.Attachment, error) {
	a, err := s.attachment(ctx, itemID)
	if err != nil {
		return "", nil, err
	}
	url, err := s.objects.PresignedURL(ctx, a.Object, s.urlTTL)
	if err != nil {
		return "", nil, &domain.StoreError{Err: err}
	}
	return url, a, nil
}

// Open streams the attachment. The caller must close the reader.
func (s *service) Open(ctx context.Context, itemID int64) (io.ReadCloser, *domain.Attachment, error) {
	a, err := s.attachment(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.objects.Download(ctx, a.Object)
	if err != nil {
		return nil, nil, &domain.StoreError{Err: err}
	}
	return rc, a, nil
}

func (s *service) document(ctx context.Context, itemID int64) (*domain.Item, error) {
	items, err := s.items.GetMany(ctx, domain.KindDocument, []int64{itemID})
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ItemID == itemID {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("document %d: %w", itemID, domain.ErrNotFound)
}

func (s *service) attachment(ctx context.Context, itemID int64) (*domain.Attachment, error) {
	it, err := s.document(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.Attachment == nil {
		return nil, fmt.Errorf("document %d has no attachment: %w", itemID, domain.ErrNotFound)
	}
	return it.Attachment, nil
}

func (s *service) discard(ctx context.Context, key string) {
	if err := s.objects.Delete(ctx, key); err != nil {
		slog.Warn("could not remove attachment object", "key", key, "err", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func contentTypeFromName(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff"):
		return "image/tiff"
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// sanitizeFilename strips directory components and keeps only alphanumerics,
// dot, dash and underscore so the name is safe inside an S3 key.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if result := b.String(); result != "" && result != "." && result != ".." {
		return result
	}
	return "_"
}
