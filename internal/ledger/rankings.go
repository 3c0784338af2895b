package ledger

import "sort"

// RankEntry is one row of a group leaderboard.
type RankEntry struct {
	Entity   string `json:"entity"`
	Nickname string `json:"nickname,omitempty"`
	Score    int64  `json:"score"`
}

// Rankings builds a group leaderboard. kind "coins" ranks by cash, "value"
// by pet value, anything else by net worth (cash + bank + holdings at market
// minus debt).
func (s *Service) Rankings(group, kind string, limit int) []RankEntry {
	if limit <= 0 {
		limit = 10
	}
	accounts := s.store.GroupSnapshot(group)

	entries := make([]RankEntry, 0, len(accounts))
	for entity, acc := range accounts {
		var score int64
		switch kind {
		case "coins":
			score = acc.Coins
		case "value":
			score = acc.Value
		default:
			score = acc.Coins + acc.Bank - acc.LoanAmount
			for code, h := range acc.Holdings {
				score += int64(h.Shares * s.market.Price(code))
			}
			if inv := acc.ActiveInvestment(); inv != nil {
				score += inv.CurrentValue
			}
		}
		entries = append(entries, RankEntry{Entity: entity, Nickname: acc.Nickname, Score: score})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Entity < entries[j].Entity
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
