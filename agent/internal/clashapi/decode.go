package clashapi

import (
	"encoding/json"
	"time"

	"github.com/warboard/warboard/agent/internal/history"
	"github.com/warboard/warboard/pkg/types"
)

type participant struct {
	Tag  string `json:"tag"`
	Fame int    `json:"fame"`
}

type raceClan struct {
	Tag          string        `json:"tag"`
	Participants []participant `json:"participants"`
}

func decodeMembers(raw json.RawMessage) ([]types.MemberSnapshot, error) {
	var page struct {
		Items []struct {
			Tag               string `json:"tag"`
			Name              string `json:"name"`
			Role              string `json:"role"`
			Trophies          int    `json:"trophies"`
			Donations         int    `json:"donations"`
			DonationsReceived int    `json:"donationsReceived"`
			LastSeen          string `json:"lastSeen"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	out := make([]types.MemberSnapshot, 0, len(page.Items))
	for _, m := range page.Items {
		out = append(out, types.MemberSnapshot{
			Tag:               m.Tag,
			Name:              m.Name,
			Role:              m.Role,
			Trophies:          m.Trophies,
			Donations:         m.Donations,
			DonationsReceived: m.DonationsReceived,
			LastSeen:          parseTime(m.LastSeen),
		})
	}
	return out, nil
}

func decodeRace(raw json.RawMessage, clanTag string) (RiverRace, error) {
	var body struct {
		PeriodType string     `json:"periodType"`
		Clan       raceClan   `json:"clan"`
		Clans      []raceClan `json:"clans"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return RiverRace{}, err
	}
	race := RiverRace{PeriodType: body.PeriodType, Participants: map[string]int{}}

	clan := body.Clan
	if clan.Tag != "" && NormalizeTag(clan.Tag) != NormalizeTag(clanTag) {
		for _, c := range body.Clans {
			if NormalizeTag(c.Tag) == NormalizeTag(clanTag) {
				clan = c
				break
			}
		}
	}
	for _, p := range clan.Participants {
		race.Participants[p.Tag] = max(race.Participants[p.Tag], p.Fame)
	}
	return race, nil
}

// decodeRaceLog extracts the participants of clanTag from every finished
// race. A race is filed under the week before its creation date, since the
// log entry is written once the race has closed.
func decodeRaceLog(raw json.RawMessage, clanTag string) ([]history.LogEntry, error) {
	var page struct {
		Items []struct {
			SeasonID     int    `json:"seasonId"`
			SectionIndex int    `json:"sectionIndex"`
			CreatedDate  string `json:"createdDate"`
			Standings    []struct {
				Rank int      `json:"rank"`
				Clan raceClan `json:"clan"`
			} `json:"standings"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}

	want := NormalizeTag(clanTag)
	var out []history.LogEntry
	for _, item := range page.Items {
		created := parseTime(item.CreatedDate)
		if created.IsZero() {
			continue
		}
		entry := history.LogEntry{
			Week:         history.WeekOf(created.Add(-24 * time.Hour)),
			Participants: map[string]int{},
		}
		for _, s := range item.Standings {
			if NormalizeTag(s.Clan.Tag) != want {
				continue
			}
			for _, p := range s.Clan.Participants {
				entry.Participants[p.Tag] = max(entry.Participants[p.Tag], p.Fame)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
