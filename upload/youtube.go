package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Metadata describes one video to publish.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string
}

// Uploader publishes a video file and returns the remote video ID.
type Uploader interface {
	Upload(ctx context.Context, videoPath string, meta Metadata, publishAt time.Time) (string, error)
}

// ErrAuthExpired indicates the stored credentials were rejected.
var ErrAuthExpired = errors.New("upload auth expired")

// ErrQuotaExceeded indicates the API quota for uploads is exhausted.
var ErrQuotaExceeded = errors.New("upload quota exceeded")

// YouTubeUploader uploads via the YouTube Data API v3 using an OAuth
// refresh token from the environment.
type YouTubeUploader struct {
	clientID     string
	clientSecret string
	refreshToken string
}

func NewYouTubeUploader() (*YouTubeUploader, error) {
	u := &YouTubeUploader{
		clientID:     os.Getenv("YOUTUBE_CLIENT_ID"),
		clientSecret: os.Getenv("YOUTUBE_CLIENT_SECRET"),
		refreshToken: os.Getenv("YOUTUBE_REFRESH_TOKEN"),
	}
	if u.clientID == "" || u.clientSecret == "" || u.refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}
	return u, nil
}

func (u *YouTubeUploader) tokenSource(ctx context.Context) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     u.clientID,
		ClientSecret: u.clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: u.refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return conf.TokenSource(ctx, token)
}

// Upload inserts the video. A non-zero publishAt schedules the video:
// it is uploaded private with PublishAt set, which is how the Data API
// expresses scheduled publishing.
func (u *YouTubeUploader) Upload(ctx context.Context, videoPath string, meta Metadata, publishAt time.Time) (string, error) {
	svc, err := youtube.NewService(ctx, option.WithTokenSource(u.tokenSource(ctx)))
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}

	status := &youtube.VideoStatus{
		PrivacyStatus:           meta.Privacy,
		SelfDeclaredMadeForKids: false,
	}
	if !publishAt.IsZero() {
		status.PrivacyStatus = "private" // must be private to schedule
		status.PublishAt = publishAt.UTC().Format(time.RFC3339)
		log.Printf("Upload of %q scheduled for %s", meta.Title, status.PublishAt)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
			CategoryId:  meta.CategoryID,
		},
		Status: status,
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return "", classify(err)
	}

	log.Printf("Uploaded %q as https://www.youtube.com/watch?v=%s", meta.Title, uploaded.Id)
	return uploaded.Id, nil
}

// classify maps Data API errors to the collaborator error taxonomy.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrAuthExpired, err)
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, "quotaExceeded", "uploadLimitExceeded"):
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("youtube upload: %w", err)
}

func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
