package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"

	"eldergen-backend/internal/apperrors"
)

// Uploader wraps the storage API behind the credential cache. A
// transfer rejected for authorization triggers exactly one forced
// refresh and one retry; anything after that surfaces as ErrUploadFailed.
type Uploader struct {
	creds   *CredentialCache
	baseURL string
	bucket  string

	// fetchClient downloads source images for UploadFromURL.
	fetchClient *http.Client
}

func NewUploader(supabaseURL, bucket string, creds *CredentialCache) *Uploader {
	return &Uploader{
		creds:   creds,
		baseURL: strings.TrimSuffix(supabaseURL, "/"),
		bucket:  bucket,
		fetchClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Upload stores data as category/userID/<uuid>.png and returns the
// storage path and public URL. The random object name guarantees path
// uniqueness without coordination.
func (u *Uploader) Upload(ctx context.Context, data []byte, userID int64, category string) (string, string, error) {
	token, err := u.creds.Token(ctx)
	if err != nil {
		return "", "", err
	}

	path := fmt.Sprintf("%s/%d/%s.png", category, userID, uuid.New().String())

	err = u.put(path, data, token)
	if err != nil && isAuthRejection(err) {
		token, refreshErr := u.creds.ForceRefresh(ctx, token)
		if refreshErr != nil {
			return "", "", fmt.Errorf("%w: refresh after rejection: %v", apperrors.ErrUploadFailed, refreshErr)
		}
		err = u.put(path, data, token)
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", apperrors.ErrUploadFailed, err)
	}

	return path, u.PublicURL(path), nil
}

// UploadFromURL fetches the image at sourceURL and delegates to Upload.
func (u *Uploader) UploadFromURL(ctx context.Context, sourceURL string, userID int64, category string) (string, string, error) {
	data, err := u.Fetch(ctx, sourceURL)
	if err != nil {
		return "", "", err
	}
	return u.Upload(ctx, data, userID, category)
}

// Fetch downloads bytes over HTTP, wrapping failures as ErrFetchFailed.
func (u *Uploader) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err)
	}

	resp, err := u.fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d from %s", apperrors.ErrFetchFailed, resp.StatusCode, sourceURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err)
	}
	return data, nil
}

func (u *Uploader) Delete(ctx context.Context, path string) error {
	token, err := u.creds.Token(ctx)
	if err != nil {
		return err
	}
	client := storage.NewClient(u.baseURL+"/storage/v1", token, nil)
	if _, err := client.RemoveFile(u.bucket, []string{path}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (u *Uploader) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.baseURL, u.bucket, path)
}

// put performs one transfer with the given token. A fresh storage
// client per call keeps the bearer token current after refreshes.
func (u *Uploader) put(path string, data []byte, token string) error {
	client := storage.NewClient(u.baseURL+"/storage/v1", token, nil)

	contentType := "image/png"
	_, err := client.UploadFile(u.bucket, path, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
	})
	return err
}

// isAuthRejection distinguishes an authorization rejection from a
// generic transfer failure. storage-go surfaces the response status and
// message in the error text.
func isAuthRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid jwt") ||
		strings.Contains(msg, "jwt expired")
}
