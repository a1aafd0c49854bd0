package media

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistIDPattern = regexp.MustCompile(`^(PL|OL|UU|LL|FL|RD)[A-Za-z0-9_-]+$`)
)

// ExtractVideoID accepts watch, shorts, embed and youtu.be URLs or a bare id.
func ExtractVideoID(urlLike string) (string, bool) {
	s := strings.TrimSpace(urlLike)
	if videoIDPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/live/"):
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 {
				id = parts[1]
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// ExtractPlaylistID accepts any URL with a list parameter or a bare playlist id.
func ExtractPlaylistID(urlLike string) (string, bool) {
	s := strings.TrimSpace(urlLike)
	if playlistIDPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	id := u.Query().Get("list")
	if id == "" {
		return "", false
	}
	return id, true
}
