package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docket-desk/internal/application/attachment"
	"github.com/docket-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAttachmentSvc struct{ mock.Mock }

func (m *mockAttachmentSvc) Attach(ctx context.Context, itemID int64, in attachment.UploadInput) (*domain.Item, error) {
	data, _ := io.ReadAll(in.Reader)
	args := m.Called(ctx, itemID, in.Filename, string(data), in.Uploader)
	if it, _ := args.Get(0).(*domain.Item); it != nil {
		return it, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAttachmentSvc) Link(ctx context.Context, itemID int64) (string, *domain.Attachment, error) {
	args := m.Called(ctx, itemID)
	a, _ := args.Get(1).(*domain.Attachment)
	return args.String(0), a, args.Error(2)
}

func (m *mockAttachmentSvc) Open(ctx context.Context, itemID int64) (io.ReadCloser, *domain.Attachment, error) {
	args := m.Called(ctx, itemID)
	rc, _ := args.Get(0).(io.ReadCloser)
	a, _ := args.Get(1).(*domain.Attachment)
	return rc, a, args.Error(2)
}

func multipartBody(t *testing.T, field, name, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUpload_HappyPath(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAttachmentSvc{}
	svc.On("Attach", mock.Anything, int64(4), "oficio.pdf", "%PDF", operator).
		Return(&domain.Item{ItemID: 4, Attachment: &domain.Attachment{Name: "oficio.pdf"}}, nil)
	h := NewAttachmentHandler(svc, 1<<20)

	body, ct := multipartBody(t, "file", "oficio.pdf", "%PDF")
	r := withChiID(bearerReq(t, p, http.MethodPost, "/v1/documents/4/attachment", "op1", domain.RoleOperator, body), "4")
	r.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Upload), rr, r)

	assert.Equal(t, http.StatusCreated, rr.Code)
	svc.AssertExpectations(t)
}

func TestUpload_MissingFileField(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewAttachmentHandler(&mockAttachmentSvc{}, 1<<20)

	body, ct := multipartBody(t, "scan", "oficio.pdf", "%PDF")
	r := withChiID(bearerReq(t, p, http.MethodPost, "/v1/documents/4/attachment", "op1", domain.RoleOperator, body), "4")
	r.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Upload), rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewAttachmentHandler(&mockAttachmentSvc{}, 1024)

	body, ct := multipartBody(t, "file", "big.pdf", strings.Repeat("x", 4096))
	r := withChiID(bearerReq(t, p, http.MethodPost, "/v1/documents/4/attachment", "op1", domain.RoleOperator, body), "4")
	r.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Upload), rr, r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestDownload_Redirects(t *testing.T) {
	svc := &mockAttachmentSvc{}
	svc.On("Link", mock.Anything, int64(4)).Return("https://s3.local/signed", &domain.Attachment{}, nil)
	h := NewAttachmentHandler(svc, 1<<20)

	rr := httptest.NewRecorder()
	h.Download(rr, withChiID(httptest.NewRequest(http.MethodGet, "/v1/documents/4/attachment", nil), "4"))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://s3.local/signed", rr.Header().Get("Location"))
}

func TestDownload_Streams(t *testing.T) {
	svc := &mockAttachmentSvc{}
	svc.On("Open", mock.Anything, int64(4)).
		Return(io.NopCloser(strings.NewReader("%PDF")), &domain.Attachment{Name: "oficio.pdf", Type: "application/pdf"}, nil)
	h := NewAttachmentHandler(svc, 1<<20)

	rr := httptest.NewRecorder()
	h.Download(rr, withChiID(httptest.NewRequest(http.MethodGet, "/v1/documents/4/attachment?stream=1", nil), "4"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="oficio.pdf"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF", rr.Body.String())
}

func TestDownload_NoAttachment(t *testing.T) {
	svc := &mockAttachmentSvc{}
	svc.On("Link", mock.Anything, int64(4)).Return("", nil, domain.ErrNotFound)
	h := NewAttachmentHandler(svc, 1<<20)

	rr := httptest.NewRecorder()
	h.Download(rr, withChiID(httptest.NewRequest(http.MethodGet, "/v1/documents/4/attachment", nil), "4"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
