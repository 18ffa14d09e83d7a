package media

import (
	"strings"
	"testing"
)

const twitterDump = `[
  [2, {
    "author": {"name": "test_user_123", "nick": "Test User"},
    "tweet_id": "1234567890123456789",
    "content": "This is a test tweet content",
    "favorite_count": 1234,
    "extension": "jpg",
    "filename": "ABC123DEF456"
  }],
  [3, "https://example.com/media/ABC123DEF456.jpg", {
    "author": {"name": "test_user_123", "nick": "Test User"},
    "tweet_id": "1234567890123456789",
    "content": "This is a test tweet content",
    "favorite_count": 1234,
    "extension": "jpg",
    "filename": "ABC123DEF456"
  }]
]`

const redditDump = `[
  [2, {
    "id": "xyz789",
    "title": "Test Post Title",
    "author": "test_redditor",
    "score": 2500,
    "extension": "png",
    "filename": "test_image"
  }],
  [3, "https://example.com/images/test_image.png", {
    "id": "xyz789",
    "title": "Test Post Title",
    "author": "test_redditor",
    "score": 2500,
    "extension": "png",
    "filename": "test_image"
  }]
]`

func TestParseGalleryDumpTwitter(t *testing.T) {
	t.Parallel()

	meta, urls, err := parseGalleryDump([]byte(twitterDump))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if meta.ID != "1234567890123456789" {
		t.Fatalf("unexpected id: %q", meta.ID)
	}
	if meta.Title != "This is a test tweet content" {
		t.Fatalf("unexpected title: %q", meta.Title)
	}
	if meta.Author != "Test User" {
		t.Fatalf("unexpected author: %q", meta.Author)
	}
	if meta.Likes == nil || *meta.Likes != 1234 {
		t.Fatalf("unexpected likes: %v", meta.Likes)
	}
	if meta.Ext != "jpg" {
		t.Fatalf("unexpected ext: %q", meta.Ext)
	}
	if len(urls) != 1 || urls[0] != "https://example.com/media/ABC123DEF456.jpg" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestParseGalleryDumpReddit(t *testing.T) {
	t.Parallel()

	meta, urls, err := parseGalleryDump([]byte(redditDump))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.ID != "xyz789" || meta.Title != "Test Post Title" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Author != "test_redditor" {
		t.Fatalf("unexpected author: %q", meta.Author)
	}
	if meta.Likes == nil || *meta.Likes != 2500 {
		t.Fatalf("unexpected likes: %v", meta.Likes)
	}
	if len(urls) != 1 {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestParseGalleryDumpErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"empty array", `[]`, "no media found"},
		{"not an array", `"nope"`, "parse gallery-dl output"},
		{"metadata only", `[[2, {"title": "metadata only"}]]`, "no media metadata found"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := parseGalleryDump([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestGalleryAuthorFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"nested nick", map[string]any{"author": map[string]any{"name": "user", "nick": "Display"}}, "Display"},
		{"nested name only", map[string]any{"author": map[string]any{"name": "user"}}, "user"},
		{"flat string", map[string]any{"author": "TestAuthor"}, "TestAuthor"},
		{"uploader fallback", map[string]any{"uploader": "TestUploader"}, "TestUploader"},
		{"none", map[string]any{}, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := galleryAuthor(tt.fields); got != tt.want {
				t.Fatalf("galleryAuthor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGalleryMetadataDefaults(t *testing.T) {
	t.Parallel()

	meta := galleryMetadata(map[string]any{})
	if meta.ID != "unknown" {
		t.Fatalf("unexpected id: %q", meta.ID)
	}
	if meta.Title != UnknownMedia {
		t.Fatalf("unexpected title: %q", meta.Title)
	}
	if meta.Likes != nil {
		t.Fatalf("expected nil likes")
	}
	if meta.Ext != "jpg" {
		t.Fatalf("unexpected ext: %q", meta.Ext)
	}
}

func TestGalleryDLUnsupported(t *testing.T) {
	t.Parallel()

	if !galleryDLUnsupported("error: Unsupported URL 'https://example.com'") {
		t.Fatalf("expected unsupported")
	}
	if !galleryDLUnsupported("No suitable extractor found") {
		t.Fatalf("expected unsupported")
	}
	if galleryDLUnsupported("HTTP error 503") {
		t.Fatalf("expected hard failure")
	}
}
