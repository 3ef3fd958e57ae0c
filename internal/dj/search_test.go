package dj

import (
	"testing"

	"noteblockdj.ai/internal/nbs"
)

func names(songs []*nbs.Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.FriendlyName()
	}
	return out
}

func TestSearchSongs_Ranking(t *testing.T) {
	library := []*nbs.Song{
		newSong("Never Gonna Give You Up", 2000, 10),
		newSong("Give Me Love", 2000, 10),
		newSong("give", 2000, 10),
		newSong("Mr. Blue-Sky", 2000, 10),
		newSong("GIVE", 2000, 10),
	}

	got := names(SearchSongs(library, "give"))
	want := []string{"give", "GIVE", "Give Me Love", "Never Gonna Give You Up"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	got = names(SearchSongs(library, "mr blue"))
	if len(got) != 1 || got[0] != "Mr. Blue-Sky" {
		t.Fatalf("normalized prefix: %v", got)
	}
	got = names(SearchSongs(library, "bluesky"))
	if len(got) != 1 || got[0] != "Mr. Blue-Sky" {
		t.Fatalf("normalized contains: %v", got)
	}
	if got := SearchSongs(library, "polka"); len(got) != 0 {
		t.Fatalf("unexpected match %v", names(got))
	}
}
