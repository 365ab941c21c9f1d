package generation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ClipRequest identifies a clip variant to render.
type ClipRequest struct {
	SeriesID      uuid.UUID
	EpisodeNumber int
	VariantNumber int
	Prompt        string
	Seed          int64
}

// ClipRenderer renders a variant and stores the result.
type ClipRenderer struct {
	video  *VideoClient
	assets AssetStore
}

// NewClipRenderer returns a renderer. assets may be nil when storage is not
// configured, in which case every render fails terminally.
func NewClipRenderer(video *VideoClient, assets AssetStore) *ClipRenderer {
	return &ClipRenderer{video: video, assets: assets}
}

// RenderClip renders the variant and returns the public URL of the stored file.
func (r *ClipRenderer) RenderClip(ctx context.Context, req ClipRequest) (string, error) {
	if r.assets == nil {
		return "", Terminal("asset storage is not configured")
	}
	video, err := r.video.Render(ctx, VideoRequest{Prompt: req.Prompt, Seed: req.Seed})
	if err != nil {
		return "", err
	}
	path := AssetPath(req.SeriesID, req.EpisodeNumber, req.VariantNumber)
	return r.assets.Upload(ctx, path, "video/mp4", video.Data)
}

// AssetPath is the storage key of a rendered variant.
func AssetPath(seriesID uuid.UUID, episode, variant int) string {
	return fmt.Sprintf("series/%s/episodes/%d/variant-%d.mp4", seriesID, episode, variant)
}

// SeedFor derives a stable, positive seed from a clip id so that sibling
// variants render differently and retries reproduce the same clip.
func SeedFor(clipID uuid.UUID) int64 {
	var seed uint64
	for _, b := range clipID[:8] {
		seed = seed<<8 | uint64(b)
	}
	return int64(seed % (1 << 31))
}
