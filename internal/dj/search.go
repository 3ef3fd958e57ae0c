package dj

import (
	"strings"

	"noteblockdj.ai/internal/nbs"
)

var normalizer = strings.NewReplacer(" ", "", "_", "", "-", "", ".", "", "(", "", ")", "", "'", "", `"`, "")

func normalize(s string) string {
	return normalizer.Replace(strings.ToLower(s))
}

// SearchSongs ranks songs by how well their friendly name matches term:
// exact, exact ignoring case, prefix, substring, then prefix and substring
// after stripping punctuation and spaces. Each song appears once.
func SearchSongs(songs []*nbs.Song, term string) []*nbs.Song {
	lower := strings.ToLower(term)
	norm := normalize(term)
	passes := []func(name string) bool{
		func(name string) bool { return name == term },
		func(name string) bool { return strings.EqualFold(name, term) },
		func(name string) bool { return strings.HasPrefix(strings.ToLower(name), lower) },
		func(name string) bool { return strings.Contains(strings.ToLower(name), lower) },
		func(name string) bool { return strings.HasPrefix(normalize(name), norm) },
		func(name string) bool { return strings.Contains(normalize(name), norm) },
	}

	var out []*nbs.Song
	seen := make(map[*nbs.Song]bool)
	for _, match := range passes {
		for _, s := range songs {
			if !seen[s] && match(s.FriendlyName()) {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
