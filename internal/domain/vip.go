package domain

// NoPriority is the rank of users absent from the VIP table.
const NoPriority = -1

type VipRank struct {
	UserID   UserID `json:"user_id"`
	Priority int    `json:"priority"`
	Name     string `json:"name,omitempty"`
	Badge    string `json:"badge,omitempty"`
}

func NoVip(u UserID) VipRank {
	return VipRank{UserID: u, Priority: NoPriority}
}
