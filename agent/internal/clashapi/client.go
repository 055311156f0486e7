package clashapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/warboard/warboard/agent/internal/fetch"
	"github.com/warboard/warboard/agent/internal/history"
	"github.com/warboard/warboard/pkg/types"
)

// TimeLayout is the timestamp format used throughout the API.
const TimeLayout = "20060102T150405.000Z"

// Fetcher is the part of fetch.Engine the client needs.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string) ([]fetch.Result, error)
}

// Client builds API URLs and decodes responses.
type Client struct {
	base string
	f    Fetcher
}

// New returns a Client rooted at baseURL (e.g. "https://api.clashroyale.com/v1").
func New(baseURL string, f Fetcher) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), f: f}
}

// ClanRef is the clan a player or tournament member currently belongs to.
type ClanRef struct {
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

// RiverRace is the in-progress war period of one clan.
type RiverRace struct {
	PeriodType   string
	Participants map[string]int // tag -> fame
}

// Clan bundles everything the ranking path reads for one clan.
type Clan struct {
	Members []types.MemberSnapshot
	Race    RiverRace
	Log     []history.LogEntry
}

// Player is a full player profile.
type Player struct {
	Tag            string   `json:"tag"`
	Name           string   `json:"name"`
	Trophies       int      `json:"trophies"`
	TotalDonations int      `json:"totalDonations"`
	WarDayWins     int      `json:"warDayWins"`
	Clan           *ClanRef `json:"clan,omitempty"`
}

// InClan reports whether the player currently belongs to a clan.
func (p Player) InClan() bool { return p.Clan != nil && p.Clan.Tag != "" }

// Battle is one entry of a player's recent battle log.
type Battle struct {
	Type string `json:"type"`
}

// TournamentHeader is one search hit.
type TournamentHeader struct {
	Tag         string `json:"tag"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Capacity    int    `json:"capacity"`
	MaxCapacity int    `json:"maxCapacity"`
}

// TournamentMember is one entry of a tournament's member list.
type TournamentMember struct {
	Tag      string   `json:"tag"`
	Name     string   `json:"name"`
	Trophies int      `json:"trophies"`
	Clan     *ClanRef `json:"clan,omitempty"`
}

// InClan reports whether the member currently belongs to a clan.
func (m TournamentMember) InClan() bool { return m.Clan != nil && m.Clan.Tag != "" }

// Tournament is a tournament with its member list.
type Tournament struct {
	Tag      string             `json:"tag"`
	Name     string             `json:"name"`
	Capacity int                `json:"capacity"`
	Members  []TournamentMember `json:"membersList"`
}

// ClanOverview fetches the member list, current river race and river race
// log of clanTag in a single batch.
func (c *Client) ClanOverview(ctx context.Context, clanTag string) (*Clan, error) {
	tag := escapeTag(clanTag)
	urls := []string{
		c.base + "/clans/" + tag + "/members",
		c.base + "/clans/" + tag + "/currentriverrace",
		c.base + "/clans/" + tag + "/riverracelog",
	}
	res, err := c.f.FetchBatch(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("clashapi: clan overview %s: %w", clanTag, err)
	}

	out := &Clan{Race: RiverRace{Participants: map[string]int{}}}
	if res[0].Found() {
		if out.Members, err = decodeMembers(res[0].Payload); err != nil {
			return nil, fmt.Errorf("clashapi: decode members: %w", err)
		}
	}
	if res[1].Found() {
		if out.Race, err = decodeRace(res[1].Payload, clanTag); err != nil {
			return nil, fmt.Errorf("clashapi: decode current race: %w", err)
		}
	}
	if res[2].Found() {
		if out.Log, err = decodeRaceLog(res[2].Payload, clanTag); err != nil {
			return nil, fmt.Errorf("clashapi: decode race log: %w", err)
		}
	}
	return out, nil
}

// ClanMembers fetches the member list of clanTag. A missing clan yields an
// empty list.
func (c *Client) ClanMembers(ctx context.Context, clanTag string) ([]types.MemberSnapshot, error) {
	res, err := c.f.FetchBatch(ctx, []string{c.base + "/clans/" + escapeTag(clanTag) + "/members"})
	if err != nil {
		return nil, fmt.Errorf("clashapi: clan members %s: %w", clanTag, err)
	}
	if !res[0].Found() {
		return nil, nil
	}
	members, err := decodeMembers(res[0].Payload)
	if err != nil {
		return nil, fmt.Errorf("clashapi: decode members: %w", err)
	}
	return members, nil
}

// Players fetches profiles keyed by tag. Missing players are omitted.
func (c *Client) Players(ctx context.Context, tags []string) (map[string]Player, error) {
	out := make(map[string]Player, len(tags))
	err := c.each(ctx, "players", tags, func(t string) string {
		return c.base + "/players/" + escapeTag(t)
	}, func(tag string, raw json.RawMessage) error {
		var p Player
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Tag == "" {
			p.Tag = tag
		}
		out[tag] = p
		return nil
	})
	return out, err
}

// BattleLogs fetches recent battles keyed by player tag. Missing logs are
// omitted.
func (c *Client) BattleLogs(ctx context.Context, tags []string) (map[string][]Battle, error) {
	out := make(map[string][]Battle, len(tags))
	err := c.each(ctx, "battle logs", tags, func(t string) string {
		return c.base + "/players/" + escapeTag(t) + "/battlelog"
	}, func(tag string, raw json.RawMessage) error {
		var battles []Battle
		if err := json.Unmarshal(raw, &battles); err != nil {
			return err
		}
		out[tag] = battles
		return nil
	})
	return out, err
}

// SearchTournaments runs one name search per keyword and returns every hit
// in keyword order. Duplicates across keywords are kept.
func (c *Client) SearchTournaments(ctx context.Context, keywords []string) ([]TournamentHeader, error) {
	var out []TournamentHeader
	hits := make(map[string][]TournamentHeader, len(keywords))
	err := c.each(ctx, "tournament search", keywords, func(kw string) string {
		return c.base + "/tournaments?" + url.Values{"name": {kw}}.Encode()
	}, func(kw string, raw json.RawMessage) error {
		var page struct {
			Items []TournamentHeader `json:"items"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		hits[kw] = page.Items
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, kw := range keywords {
		out = append(out, hits[kw]...)
	}
	return out, nil
}

// Tournaments fetches tournament details keyed by tag. Missing tournaments are
// omitted.
func (c *Client) Tournaments(ctx context.Context, tags []string) (map[string]Tournament, error) {
	out := make(map[string]Tournament, len(tags))
	err := c.each(ctx, "tournaments", tags, func(t string) string {
		return c.base + "/tournaments/" + escapeTag(t)
	}, func(tag string, raw json.RawMessage) error {
		var tour Tournament
		if err := json.Unmarshal(raw, &tour); err != nil {
			return err
		}
		out[tag] = tour
		return nil
	})
	return out, err
}

// each fetches one URL per key in a single batch and hands every found
// payload to decode. A payload that fails to decode is logged and skipped.
func (c *Client) each(ctx context.Context, what string, keys []string, urlFor func(string) string, decode func(key string, raw json.RawMessage) error) error {
	if len(keys) == 0 {
		return nil
	}
	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = urlFor(k)
	}
	res, err := c.f.FetchBatch(ctx, urls)
	if err != nil {
		return fmt.Errorf("clashapi: %s: %w", what, err)
	}
	for i, r := range res {
		if !r.Found() {
			continue
		}
		if err := decode(keys[i], r.Payload); err != nil {
			slog.Warn("clashapi: skipping undecodable payload", "what", what, "key", keys[i], "err", err)
		}
	}
	return nil
}

// escapeTag makes a tag safe for a URL path ("#ABC" -> "%23ABC").
func escapeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return url.PathEscape(tag)
}

// NormalizeTag returns tag upper-cased with a leading '#'.
func NormalizeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag != "" && !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}

// parseTime parses an API timestamp; an empty or malformed value is the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
