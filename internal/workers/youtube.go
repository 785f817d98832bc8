package workers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTubeUploadArgs describes one upload task: a rendered output to push
// to the project's linked YouTube channel.
type YouTubeUploadArgs struct {
	TaskID      string    `json:"task_id"` // prefixed: yt_<uuid>
	ProjectID   uuid.UUID `json:"project_id"`
	VideoURL    string    `json:"video_url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Privacy     string    `json:"privacy,omitempty"` // private | unlisted | public
}

func (YouTubeUploadArgs) Kind() string { return "youtube_upload" }

// NewYouTubeTaskID mints a prefixed upload task id.
func NewYouTubeTaskID() string {
	return "yt_" + uuid.NewString()
}

// YouTubeWorker streams a rendered video from storage into the YouTube
// Data API. Uploads are idempotent from the platform's point of view
// only in that a duplicate upload wastes quota, not credits.
type YouTubeWorker struct {
	river.WorkerDefaults[YouTubeUploadArgs]
	tokens     oauth2.TokenSource
	httpClient *http.Client
	log        *slog.Logger
}

func NewYouTubeWorker(tokens oauth2.TokenSource, log *slog.Logger) *YouTubeWorker {
	if log == nil {
		log = slog.Default()
	}
	return &YouTubeWorker{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		log:        log,
	}
}

func (w *YouTubeWorker) Work(ctx context.Context, job *river.Job[YouTubeUploadArgs]) error {
	args := job.Args

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.VideoURL, nil)
	if err != nil {
		return fmt.Errorf("build video fetch: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch video %s: %w", args.TaskID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch video %s: storage returned %d", args.TaskID, resp.StatusCode)
	}

	svc, err := youtube.NewService(ctx, option.WithTokenSource(w.tokens))
	if err != nil {
		return fmt.Errorf("youtube service: %w", err)
	}

	privacy := args.Privacy
	if privacy == "" {
		privacy = "private"
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       args.Title,
			Description: args.Description,
			Tags:        args.Tags,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: privacy},
	}

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(resp.Body).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload %s: %w", args.TaskID, err)
	}

	w.log.Info("youtube upload completed",
		"task_id", args.TaskID, "video_id", uploaded.Id, "attempt", job.Attempt)
	return nil
}
