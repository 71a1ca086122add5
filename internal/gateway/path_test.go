package gateway

import "testing"

func TestJoinUpstreamPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		prefix  string
		logical string
		want    string
	}{
		{"plain", "http://abs:13378", "audiobookshelf", "api/libraries", "http://abs:13378/audiobookshelf/api/libraries"},
		{"leading slash on logical", "http://abs:13378", "audiobookshelf", "/api/libraries", "http://abs:13378/audiobookshelf/api/libraries"},
		{"trailing slash on base", "http://abs:13378/", "audiobookshelf", "/api/libraries", "http://abs:13378/audiobookshelf/api/libraries"},
		{"many slashes everywhere", "http://abs:13378///", "/audiobookshelf/", "///api/libraries", "http://abs:13378/audiobookshelf/api/libraries"},
		{"double slash inside logical", "http://abs:13378", "audiobookshelf", "api//items//abc/play", "http://abs:13378/audiobookshelf/api/items/abc/play"},
		{"no prefix", "http://abs:13378", "", "/api/items/abc", "http://abs:13378/api/items/abc"},
		{"slash-only prefix", "http://abs:13378", "/", "api/items/abc", "http://abs:13378/api/items/abc"},
		{"query preserved", "http://abs:13378", "audiobookshelf", "/hls/sess1/output.mp3?token=xyz", "http://abs:13378/audiobookshelf/hls/sess1/output.mp3?token=xyz"},
		{"query with slashes untouched", "http://abs:13378", "", "api/items?path=a//b", "http://abs:13378/api/items?path=a//b"},
		{"empty logical", "http://abs:13378", "audiobookshelf", "", "http://abs:13378/audiobookshelf"},
		{"root logical", "http://abs:13378", "", "/", "http://abs:13378"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := JoinUpstreamPath(tc.base, tc.prefix, tc.logical)
			if got != tc.want {
				t.Errorf("JoinUpstreamPath(%q, %q, %q) = %q, want %q",
					tc.base, tc.prefix, tc.logical, got, tc.want)
			}
		})
	}
}

func TestCollapseSlashes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/b/c", "a/b/c"},
		{"a//b", "a/b"},
		{"a////b///c", "a/b/c"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := collapseSlashes(tc.in); got != tc.want {
			t.Errorf("collapseSlashes(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
