package feed

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
)

var ErrMalformedFeed = errors.New("malformed feed")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Result is what one push body yields.
type Result struct {
	Stubs []domain.ItemStub
	// Dropped counts entries without a usable video id or whose channel is
	// not tracked.
	Dropped int
	// Deleted lists video ids announced in at:deleted-entry tombstones.
	Deleted []string
}

// Parser turns Atom push bodies into item stubs for tracked channels.
type Parser struct {
	atomParser *atom.Parser
	tracked    func(channelID string) bool
}

// NewParser returns a parser that keeps entries whose channel satisfies
// tracked. A nil tracked keeps every channel.
func NewParser(tracked func(channelID string) bool) *Parser {
	if tracked == nil {
		tracked = func(string) bool { return true }
	}
	return &Parser{
		atomParser: &atom.Parser{},
		tracked:    tracked,
	}
}

// Parse extracts one stub per distinct video in body. Only an unreadable
// document is an error; bad entries are dropped and counted.
func (p *Parser) Parse(body []byte) (Result, error) {
	var res Result

	parsed, err := p.atomParser.Parse(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}

	res.Deleted = deletedEntries(parsed.Extensions)

	seen := make(map[string]struct{}, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		stub, err := p.stubFromEntry(entry)
		if err != nil {
			res.Dropped++
			continue
		}
		if _, dup := seen[stub.VideoID]; dup {
			continue
		}
		seen[stub.VideoID] = struct{}{}
		res.Stubs = append(res.Stubs, stub)
	}
	return res, nil
}

func (p *Parser) stubFromEntry(entry *atom.Entry) (domain.ItemStub, error) {
	var fromID string
	if id, ok := strings.CutPrefix(entry.ID, "yt:video:"); ok {
		fromID = id
	}
	videoID := coalesce(
		extensionValue(entry.Extensions, "yt", "videoId"),
		fromID,
		videoIDFromLinks(entry.Links),
	)
	if !videoIDPattern.MatchString(videoID) {
		return domain.ItemStub{}, fmt.Errorf("%w: no video id", domain.ErrMalformedEntry)
	}

	channelID := extensionValue(entry.Extensions, "yt", "channelId")
	if channelID == "" {
		channelID = channelIDFromAuthors(entry.Authors)
	}
	if channelID == "" {
		return domain.ItemStub{}, fmt.Errorf("%w: no channel id for %s", domain.ErrMalformedEntry, videoID)
	}
	if !p.tracked(channelID) {
		return domain.ItemStub{}, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channelID)
	}

	return domain.ItemStub{
		VideoID:     videoID,
		ChannelID:   channelID,
		CandidateAt: candidateTime(entry),
		Origin:      domain.OriginPush,
	}, nil
}

// candidateTime prefers published and falls back to updated.
func candidateTime(entry *atom.Entry) *time.Time {
	for _, t := range []*time.Time{entry.PublishedParsed, entry.UpdatedParsed} {
		if t != nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func extensionValue(exts ext.Extensions, prefix, name string) string {
	if exts == nil {
		return ""
	}
	for _, e := range exts[prefix][name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func videoIDFromLinks(links []*atom.Link) string {
	for _, link := range links {
		if link == nil || (link.Rel != "" && link.Rel != "alternate") {
			continue
		}
		u, err := url.Parse(link.Href)
		if err != nil {
			continue
		}
		if v := u.Query().Get("v"); v != "" {
			return v
		}
	}
	return ""
}

func channelIDFromAuthors(authors []*atom.Person) string {
	for _, a := range authors {
		if a == nil {
			continue
		}
		if id := channelIDFromURI(a.URI); id != "" {
			return id
		}
	}
	return ""
}

func channelIDFromURI(uri string) string {
	const marker = "/channel/"
	i := strings.Index(uri, marker)
	if i < 0 {
		return ""
	}
	return strings.Trim(uri[i+len(marker):], "/ ")
}

func deletedEntries(exts ext.Extensions) []string {
	var ids []string
	for _, e := range exts["at"]["deleted-entry"] {
		ref := strings.TrimPrefix(e.Attrs["ref"], "yt:video:")
		if ref != "" {
			ids = append(ids, ref)
		}
	}
	return ids
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
